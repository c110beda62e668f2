package dot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjornslib/attractor/pkg/pipeline"
)

const samplePipeline = `
digraph demo {
    // Functional chain
    start [handler=start];
    impl_api [handler=codergen, acceptance="all endpoints return JSON", bead_id=bd_101, max_retries=2];
    at_api [handler=codergen, acceptance="scenarios pass", promise_ac=impl_api, bead_id=bd_102];
    exit [handler=exit];

    start -> impl_api;
    impl_api -> at_api;
    at_api -> exit;
}
`

func TestParse_Basic(t *testing.T) {
	g, err := Parse(samplePipeline)
	require.NoError(t, err)

	assert.Equal(t, "demo", g.Name)
	assert.Len(t, g.Nodes, 4)
	assert.Len(t, g.Edges, 3)

	impl := g.Node("impl_api")
	require.NotNil(t, impl)
	assert.Equal(t, pipeline.HandlerCodergen, impl.Handler)
	assert.Equal(t, pipeline.StatusPending, impl.Status)
	assert.Equal(t, "all endpoints return JSON", impl.Acceptance)
	assert.Equal(t, "bd_101", impl.BeadID)
	assert.Equal(t, 2, impl.MaxRetries)

	at := g.Node("at_api")
	require.NotNil(t, at)
	assert.True(t, at.IsAcceptanceTest())
	assert.Equal(t, "impl_api", at.PromiseAC)
}

func TestParse_ShapeMapsToHandler(t *testing.T) {
	g, err := Parse(`digraph {
        a [shape=Mdiamond];
        b [shape=box, acceptance="works"];
        c [shape=Msquare];
        a -> b -> c;
    }`)
	require.NoError(t, err)

	assert.Equal(t, pipeline.HandlerStart, g.Node("a").Handler)
	assert.Equal(t, pipeline.HandlerCodergen, g.Node("b").Handler)
	assert.Equal(t, pipeline.HandlerExit, g.Node("c").Handler)
}

func TestParse_NodeDefaults(t *testing.T) {
	g, err := Parse(`digraph {
        node [worker_type=sonnet];
        a [handler=start];
        b [handler=codergen, acceptance=x];
        a -> b;
    }`)
	require.NoError(t, err)

	assert.Equal(t, "sonnet", g.Node("a").WorkerType)
	assert.Equal(t, "sonnet", g.Node("b").WorkerType)
}

func TestParse_EdgeChainAndLabels(t *testing.T) {
	g, err := Parse(`digraph {
        gate [handler=conditional];
        yes [handler=tool];
        no [handler=tool];
        gate -> yes [label="score >= 80"];
        gate -> no [label=otherwise];
    }`)
	require.NoError(t, err)

	edges := g.OutgoingEdges("gate")
	require.Len(t, edges, 2)
	assert.Equal(t, "score >= 80", edges[0].Label)
	assert.Equal(t, "otherwise", edges[1].Label)
}

func TestParse_ImplicitNodesFromEdges(t *testing.T) {
	g, err := Parse(`digraph { a -> b; }`)
	require.NoError(t, err)

	require.NotNil(t, g.Node("a"))
	require.NotNil(t, g.Node("b"))
	assert.Equal(t, pipeline.HandlerTool, g.Node("a").Handler)
}

func TestParse_Comments(t *testing.T) {
	g, err := Parse(`digraph {
        # hash comment
        a [handler=start]; // trailing comment
        b [handler=exit];
        a -> b;
    }`)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 2)
}

func TestParse_DuplicateNode(t *testing.T) {
	_, err := Parse(`digraph {
        a [handler=start];
        a [handler=exit];
    }`)
	require.Error(t, err)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Message, "duplicate")
	assert.Equal(t, 3, pe.Line)
}

func TestParse_Malformed(t *testing.T) {
	cases := map[string]string{
		"no header":         `graph { a; }`,
		"missing brace":     `digraph { a [handler=start];`,
		"unterminated attr": `digraph { a [handler=start; }`,
		"bad attr pair":     `digraph { a [handler]; }`,
		"empty":             ``,
		"open quote":        `digraph { a [acceptance="oops]; }`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(src)
			var pe *ParseError
			require.ErrorAs(t, err, &pe, "input should be rejected")
		})
	}
}

func TestParseFile_MissingFile(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "absent.dot"))
	require.Error(t, err)
}

func TestParseFile_CarriesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.dot")
	require.NoError(t, os.WriteFile(path, []byte("digraph {"), 0o644))

	_, err := ParseFile(path)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, path, pe.Path)
}

func TestRoundTrip(t *testing.T) {
	sources := []string{
		samplePipeline,
		`digraph {
            a [shape=Mdiamond];
            b [handler=codergen, acceptance="quoted \"value\" here", retry_count=1];
            c [handler=exit, custom_key="kept as extra"];
            a -> b [label="branch one"];
            b -> c;
        }`,
	}
	for _, src := range sources {
		g, err := Parse(src)
		require.NoError(t, err)

		text := Serialize(g)
		reparsed, err := Parse(text)
		require.NoError(t, err, "serialized output must parse: %s", text)
		assert.Equal(t, g, reparsed)
	}
}

func TestSerialize_Deterministic(t *testing.T) {
	g, err := Parse(samplePipeline)
	require.NoError(t, err)
	assert.Equal(t, Serialize(g), Serialize(g))
}
