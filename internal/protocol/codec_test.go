package protocol

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/solvegrid/internal/cluster"
)

// TestKindOf verifies the kind is taken from the root element only.
func TestKindOf(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Kind
		wantErr error
	}{
		{
			name: "register with header",
			raw:  `<?xml version="1.0" encoding="UTF-8"?><Register><Type>TaskManager</Type></Register>`,
			want: KindRegister,
		},
		{
			name: "partial problems root",
			raw:  `<SolvePartialProblems><Id>3</Id></SolvePartialProblems>`,
			want: KindPartialProblems,
		},
		{
			name: "namespaced root",
			raw:  `<Status xmlns="http://www.mini.pw.edu.pl/ucc/"><Id>1</Id></Status>`,
			want: KindStatus,
		},
		{
			name: "unknown root is still reported",
			raw:  `<Goodbye/>`,
			want: Kind("Goodbye"),
		},
		{name: "empty", raw: "", wantErr: ErrEmpty},
		{name: "whitespace", raw: "  \n\t", wantErr: ErrEmpty},
		{name: "not xml", raw: "hello world", wantErr: ErrMalformed},
		{name: "broken tag", raw: "<Register", wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := KindOf([]byte(tt.raw))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestDecodeUnknownKind verifies unknown kinds are distinguished from malformed input.
func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`<Goodbye><Id>1</Id></Goodbye>`))
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.False(t, Known("Goodbye"))
	assert.True(t, Known(KindSolutions))
}

// TestDecodeMalformedBody verifies a known root with an invalid body fails to decode.
func TestDecodeMalformedBody(t *testing.T) {
	_, err := Decode([]byte(`<Status><Id>not-a-number</Id></Status>`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`<SolveRequest><Data>%%%</Data></SolveRequest>`))
	assert.ErrorIs(t, err, ErrMalformed)
}

// TestEncodeNil verifies a nil message means "no action" on the wire.
func TestEncodeNil(t *testing.T) {
	out, err := Encode(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

// TestBlobIsBase64OnWire verifies payloads survive arbitrary bytes.
func TestBlobIsBase64OnWire(t *testing.T) {
	msg := &SolveRequest{
		ProblemType:    "TSP",
		SolvingTimeout: 15,
		Data:           Blob{0, 0, 25, '<', '&'},
	}

	raw, err := Encode(msg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "<?xml"))
	assert.Contains(t, string(raw), "<Data>AAAZPCY=</Data>")

	decoded, err := Decode(raw)
	require.NoError(t, err)
	req, ok := decoded.(*SolveRequest)
	require.True(t, ok, "expected *SolveRequest, got %T", decoded)
	assert.Equal(t, "TSP", req.ProblemType)
	assert.Equal(t, uint64(15), req.SolvingTimeout)
	assert.Equal(t, Blob{0, 0, 25, '<', '&'}, req.Data)
}

// TestRegisterShape verifies the nested capability list encoding.
func TestRegisterShape(t *testing.T) {
	raw, err := Encode(&Register{
		Type:             cluster.RoleComputationalNode,
		SolvableProblems: []string{"ab", "ba"},
		ParallelThreads:  15,
	})
	require.NoError(t, err)
	assert.Contains(t, string(raw),
		"<SolvableProblems><ProblemName>ab</ProblemName><ProblemName>ba</ProblemName></SolvableProblems>")

	decoded, err := Decode(raw)
	require.NoError(t, err)
	reg := decoded.(*Register)
	assert.Equal(t, cluster.RoleComputationalNode, reg.Type)
	assert.Equal(t, []string{"ab", "ba"}, reg.SolvableProblems)
	assert.Equal(t, uint8(15), reg.ParallelThreads)
}

// TestSolutionsShape verifies nested solution records keep order and every field.
func TestSolutionsShape(t *testing.T) {
	msg := &Solutions{
		ProblemType: "DVRP",
		ID:          42,
		Solutions: []Solution{
			{TaskID: 0, Type: SolutionPartial, ComputationsTime: 120, Data: Blob("a")},
			{TaskID: 1, Type: SolutionOngoing},
			{TaskID: 2, Type: SolutionFinal, TimeoutOccured: true, Data: Blob("c")},
		},
	}

	raw, err := Encode(msg)
	require.NoError(t, err)

	kind, err := KindOf(raw)
	require.NoError(t, err)
	assert.Equal(t, KindSolutions, kind)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	got := decoded.(*Solutions)
	require.Len(t, got.Solutions, 3)
	assert.Equal(t, uint64(42), got.ID)
	assert.Equal(t, SolutionPartial, got.Solutions[0].Type)
	assert.Equal(t, uint64(120), got.Solutions[0].ComputationsTime)
	assert.Equal(t, Blob("a"), got.Solutions[0].Data)
	assert.Equal(t, SolutionOngoing, got.Solutions[1].Type)
	assert.Empty(t, got.Solutions[1].Data)
	assert.True(t, got.Solutions[2].TimeoutOccured)
}

// TestDurationConversions verifies the millisecond helpers.
func TestDurationConversions(t *testing.T) {
	assert.Equal(t, uint64(1500), Millis(1500*time.Millisecond))
	assert.Equal(t, uint64(0), Millis(-time.Second))
	assert.Equal(t, 2*time.Second, Duration(2000))
}

// TestDurationSaturates verifies huge wire values stay positive instead of
// wrapping into a negative duration.
func TestDurationSaturates(t *testing.T) {
	limit := time.Duration(math.MaxInt64/int64(time.Millisecond)) * time.Millisecond

	assert.Equal(t, limit, Duration(math.MaxUint64))
	assert.Equal(t, limit, Duration(10_000_000_000_000))
	assert.Positive(t, Duration(math.MaxUint64))
	assert.Equal(t, limit, Duration(uint64(math.MaxInt64/int64(time.Millisecond))))
}
