package contextassembler

import (
	"patchforge/internal/logging"
	"patchforge/internal/types"
)

// clampOption clamps a depth option to [min,max], logging context_option_clamped
// when a clamp actually changes the value.
func clampOption(logger *logging.Logger, name string, value, min, max int, warnOut *[]string) int {
	if value < min {
		logger.Debug("context option %s clamped %d -> %d", name, value, min)
		*warnOut = append(*warnOut, "context_option_clamped")
		return min
	}
	if value > max {
		logger.Debug("context option %s clamped %d -> %d", name, value, max)
		*warnOut = append(*warnOut, "context_option_clamped")
		return max
	}
	return value
}

// trimToBudget enforces maxFiles/maxTotalBytes/per-role byte caps, dropping
// periphery files first. It measures bytes only; tokenBudget is not applied.
func trimToBudget(files []types.ContextFile, maxFiles, maxTotalBytes, maxFocusBytes, maxPeripheryBytes int) ([]types.ContextFile, []string) {
	var warnings []string

	focus := make([]types.ContextFile, 0)
	periphery := make([]types.ContextFile, 0)
	for _, f := range files {
		if f.Role == types.RoleFocus {
			focus = append(focus, f)
		} else {
			periphery = append(periphery, f)
		}
	}

	focus, fWarn := capRoleBytes(focus, maxFocusBytes)
	periphery, pWarn := capRoleBytes(periphery, maxPeripheryBytes)
	warnings = append(warnings, fWarn...)
	warnings = append(warnings, pWarn...)

	out := append(focus, periphery...)

	pruned := false
	for len(out) > maxFiles && maxFiles > 0 {
		// drop periphery first
		if len(periphery) > 0 {
			periphery = periphery[:len(periphery)-1]
		} else if len(focus) > 0 {
			focus = focus[:len(focus)-1]
		} else {
			break
		}
		out = append(append([]types.ContextFile{}, focus...), periphery...)
		pruned = true
	}

	total := 0
	for _, f := range out {
		total += f.Size
	}
	for total > maxTotalBytes && maxTotalBytes > 0 && len(out) > 0 {
		if len(periphery) > 0 {
			last := periphery[len(periphery)-1]
			periphery = periphery[:len(periphery)-1]
			total -= last.Size
		} else if len(focus) > 0 {
			last := focus[len(focus)-1]
			focus = focus[:len(focus)-1]
			total -= last.Size
		} else {
			break
		}
		out = append(append([]types.ContextFile{}, focus...), periphery...)
		pruned = true
	}

	if pruned {
		warnings = append(warnings, "context_budget_pruned")
	}
	return out, warnings
}

func capRoleBytes(files []types.ContextFile, maxBytes int) ([]types.ContextFile, []string) {
	if maxBytes <= 0 {
		return files, nil
	}
	var warnings []string
	total := 0
	out := make([]types.ContextFile, 0, len(files))
	for _, f := range files {
		if total+f.Size > maxBytes {
			warnings = append(warnings, "context_budget_pruned")
			continue
		}
		total += f.Size
		out = append(out, f)
	}
	return out, warnings
}
