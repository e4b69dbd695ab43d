package contextassembler

import (
	"bytes"
	"sort"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"patchforge/internal/types"
)

// contradictsPredicate is the derived Datalog predicate the contradiction
// program asserts: contradicts(Idx1, Idx2).
var contradictsPredicate = ast.PredicateSym{Symbol: "contradicts", Arity: 2}

// contradictionProgram is the compiled form of the pairwise-contradiction rule:
//
//	Decl memory_claim(Path, Entity, Polarity, Idx) bound [/string, /string, /name, /number].
//	contradicts(Idx1, Idx2) :-
//	    memory_claim(Path, Entity, /positive, Idx1),
//	    memory_claim(Path, Entity, /negative, Idx2).
//
// Every candidate memory fact is asserted as a memory_claim/4 fact keyed by its
// path, entity, and claim polarity; the rule above joins positive and negative
// claims that share a path/entity, deriving contradicts/2 for each pair. This
// mirrors the head/body-clause shape used elsewhere against this same engine,
// just compiled once at package init since the rule text never varies.
var contradictionProgram = mustAnalyzeSchema(`
Decl memory_claim(Path, Entity, Polarity, Idx) bound [/string, /string, /name, /number].
contradicts(Idx1, Idx2) :-
    memory_claim(Path, Entity, /positive, Idx1),
    memory_claim(Path, Entity, /negative, Idx2).
`)

func mustAnalyzeSchema(schema string) *analysis.ProgramInfo {
	unit, err := parse.Unit(bytes.NewReader([]byte(schema)))
	if err != nil {
		panic("contextassembler: contradiction schema failed to parse: " + err.Error())
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		panic("contextassembler: contradiction schema failed analysis: " + err.Error())
	}
	return info
}

// pruneMemoryContradictions implements "compute pairwise semantic
// contradictions (domain rule: same path/entity with opposite existential claims)
// -> keep the higher-scored side; emit memory_conflicts_pruned", plus
// "drop memory facts whose keywords overlap neither the request nor focus files".
//
// The contradiction check runs as real Datalog rule evaluation against a
// google/mangle fact store: every candidate fact is asserted as a
// memory_claim/4 atom carrying its polarity, contradictionProgram is
// evaluated over the store, and contradicts/2 is queried back out to drive
// which side of each conflicting pair gets dropped.
func pruneMemoryContradictions(facts []types.MemoryFact, request string, focusFiles []string) ([]types.MemoryFact, []string) {
	if len(facts) == 0 {
		return facts, nil
	}

	store := factstore.NewSimpleInMemoryStore()
	for i, f := range facts {
		polarity, err := ast.Name(polarityName(f.Claim))
		if err != nil {
			continue
		}
		store.Add(ast.NewAtom("memory_claim",
			ast.String(f.Path),
			ast.String(f.Entity),
			polarity,
			ast.Number(int64(i)),
		))
	}

	dropped := make(map[int]bool)
	if _, err := mengine.EvalProgramWithStats(contradictionProgram, store); err == nil {
		scoreOf := func(idx int) float64 {
			if idx < 0 || idx >= len(facts) {
				return 0
			}
			return facts[idx].Score
		}
		_ = store.GetFacts(ast.NewQuery(contradictsPredicate), func(a ast.Atom) error {
			i1, ok1 := atomNumberArg(a, 0)
			i2, ok2 := atomNumberArg(a, 1)
			if !ok1 || !ok2 || dropped[i1] || dropped[i2] {
				return nil
			}
			if scoreOf(i1) >= scoreOf(i2) {
				dropped[i2] = true
			} else {
				dropped[i1] = true
			}
			return nil
		})
	}
	// Evaluation failure degrades to "no contradictions found" rather than
	// blocking assembly; the relevance filter below still runs.

	var warnings []string
	kept := make([]types.MemoryFact, 0, len(facts))
	prunedAny := false
	for i, f := range facts {
		if dropped[i] {
			prunedAny = true
			continue
		}
		kept = append(kept, f)
	}
	if prunedAny {
		warnings = append(warnings, "memory_conflicts_pruned")
	}

	relevant := make([]types.MemoryFact, 0, len(kept))
	irrelevantAny := false
	for _, f := range kept {
		if factIsRelevant(f, request, focusFiles) {
			relevant = append(relevant, f)
		} else {
			irrelevantAny = true
		}
	}
	if irrelevantAny {
		warnings = append(warnings, "memory_irrelevant_filtered")
	}

	sort.SliceStable(relevant, func(i, j int) bool { return relevant[i].Score > relevant[j].Score })
	return relevant, warnings
}

func atomNumberArg(a ast.Atom, pos int) (int, bool) {
	if pos < 0 || pos >= len(a.Args) {
		return 0, false
	}
	c, ok := a.Args[pos].(ast.Constant)
	if !ok || c.Type != ast.NumberType {
		return 0, false
	}
	return int(c.NumValue), true
}

// negationMarkers are the claim-text cues that flip an existential claim's polarity.
var negationMarkers = []string{"not ", "no longer ", "never ", "isn't ", "doesn't ", "removed ", "deprecated"}

func claimPolarity(claim string) bool {
	lc := strings.ToLower(claim)
	for _, marker := range negationMarkers {
		if strings.Contains(lc, marker) {
			return false
		}
	}
	return true
}

func polarityName(claim string) string {
	if claimPolarity(claim) {
		return "/positive"
	}
	return "/negative"
}

func factIsRelevant(f types.MemoryFact, request string, focusFiles []string) bool {
	if len(f.Keywords) == 0 {
		return true
	}
	lowerRequest := strings.ToLower(request)
	for _, kw := range f.Keywords {
		lkw := strings.ToLower(kw)
		if strings.Contains(lowerRequest, lkw) {
			return true
		}
		for _, ff := range focusFiles {
			if strings.Contains(strings.ToLower(ff), lkw) {
				return true
			}
		}
	}
	return false
}
