package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjornslib/attractor/pkg/pipeline"
	"github.com/bjornslib/attractor/pkg/pipeline/dot"
)

func parseGraph(t *testing.T, src string) *pipeline.Graph {
	t.Helper()
	g, err := dot.Parse(src)
	require.NoError(t, err)
	return g
}

func rules(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Rule)
	}
	return out
}

func TestValidate_CleanGraph(t *testing.T) {
	g := parseGraph(t, `digraph {
        start [handler=start];
        impl [handler=codergen, acceptance="works", bead_id=bd_1];
        at_impl [handler=codergen, acceptance="passes", promise_ac=impl, bead_id=bd_2];
        exit [handler=exit];
        start -> impl -> at_impl -> exit;
    }`)

	assert.Empty(t, Validate(g))
}

func TestValidate_StartExitCounts(t *testing.T) {
	cases := map[string]struct {
		src  string
		want []string
	}{
		"no start": {
			src:  `digraph { a [handler=tool]; b [handler=exit]; a -> b; }`,
			want: []string{RuleSingleStart},
		},
		"two starts": {
			src: `digraph {
                a [handler=start]; b [handler=start]; c [handler=exit];
                a -> c; b -> c;
            }`,
			want: []string{RuleSingleStart},
		},
		"no exit": {
			src:  `digraph { a [handler=start]; b [handler=tool]; a -> b; }`,
			want: []string{RuleSingleExit},
		},
		"two exits": {
			src: `digraph {
                a [handler=start]; b [handler=exit]; c [handler=exit];
                a -> b; a -> c;
            }`,
			want: []string{RuleSingleExit},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			vs := Validate(parseGraph(t, tc.src))
			for _, rule := range tc.want {
				assert.Contains(t, rules(vs), rule)
			}
		})
	}
}

func TestValidate_MissingAcceptance(t *testing.T) {
	g := parseGraph(t, `digraph {
        start [handler=start];
        impl [handler=codergen];
        exit [handler=exit];
        start -> impl -> exit;
    }`)

	vs := Validate(g)
	require.Len(t, vs, 1)
	assert.Equal(t, RuleAcceptance, vs[0].Rule)
	assert.Equal(t, "impl", vs[0].NodeID)
}

func TestValidate_ATPairing(t *testing.T) {
	t.Run("dangling promise_ac", func(t *testing.T) {
		g := parseGraph(t, `digraph {
            start [handler=start];
            at [handler=codergen, acceptance=x, promise_ac=ghost];
            exit [handler=exit];
            start -> at -> exit;
        }`)
		assert.Contains(t, rules(Validate(g)), RuleATPairing)
	})

	t.Run("double coverage", func(t *testing.T) {
		g := parseGraph(t, `digraph {
            start [handler=start];
            impl [handler=codergen, acceptance=x];
            at1 [handler=codergen, acceptance=y, promise_ac=impl];
            at2 [handler=codergen, acceptance=z, promise_ac=impl];
            exit [handler=exit];
            start -> impl -> at1 -> exit;
            impl -> at2 -> exit;
        }`)
		assert.Contains(t, rules(Validate(g)), RuleATPairing)
	})
}

func TestValidate_Orphan(t *testing.T) {
	g := parseGraph(t, `digraph {
        start [handler=start];
        island [handler=tool];
        exit [handler=exit];
        start -> exit;
    }`)

	vs := Validate(g)
	require.Len(t, vs, 1)
	assert.Equal(t, RuleNoOrphans, vs[0].Rule)
	assert.Equal(t, "island", vs[0].NodeID)
}

func TestValidate_DuplicateBeadID(t *testing.T) {
	g := parseGraph(t, `digraph {
        start [handler=start];
        a [handler=tool, bead_id=bd_9];
        b [handler=tool, bead_id=bd_9];
        exit [handler=exit];
        start -> a -> b -> exit;
    }`)

	assert.Contains(t, rules(Validate(g)), RuleUniqueBeadID)
}

func TestValidate_Cycle(t *testing.T) {
	g := parseGraph(t, `digraph {
        start [handler=start];
        a [handler=tool];
        b [handler=tool];
        exit [handler=exit];
        start -> a -> b -> a;
        b -> exit;
    }`)

	assert.Contains(t, rules(Validate(g)), RuleNoCycles)
}

func TestValidate_UnknownHandler(t *testing.T) {
	g := parseGraph(t, `digraph {
        start [handler=start];
        weird [handler=quantum];
        exit [handler=exit];
        start -> weird -> exit;
    }`)

	assert.Contains(t, rules(Validate(g)), RuleKnownHandler)
}
