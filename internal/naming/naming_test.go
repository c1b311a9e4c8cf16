package naming

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/evidence"
)

type usedSet map[string]bool

func (u usedSet) Used(id string) bool { return u[id] }

func ctxFor(caseRef, seal, object string) evidence.Context {
	c := evidence.Context{Case: evidence.Case{Ref: caseRef}}
	if seal != "" {
		c.Seal = &evidence.Seal{CaseRef: caseRef, Number: seal}
	}
	if object != "" {
		c.Object = &evidence.ObjectItem{CaseRef: caseRef, SealNumber: seal, Letter: object}
	}
	return c
}

func TestFormat(t *testing.T) {
	e := New(0, ".jpg")

	tests := []struct {
		name    string
		req     Request
		wantID  string
		wantRel string
	}{
		{
			name:    "sealed",
			req:     Request{Context: ctxFor("CASE-001", "S1", ""), Subject: evidence.SubjectSealed, Sequence: 1},
			wantID:  "CASE-001_S1_SEALED_001",
			wantRel: filepath.Join("CASE-001", "S1", "CASE-001_S1_SEALED_001.jpg"),
		},
		{
			name:    "content",
			req:     Request{Context: ctxFor("CASE-001", "S1", ""), Subject: evidence.SubjectContent, Sequence: 12},
			wantID:  "CASE-001_S1_CONTENT_012",
			wantRel: filepath.Join("CASE-001", "S1", "CASE-001_S1_CONTENT_012.jpg"),
		},
		{
			name:    "object",
			req:     Request{Context: ctxFor("CASE-001", "S1", "B"), Subject: evidence.SubjectObject, Sequence: 3},
			wantID:  "CASE-001_S1_OBJECT-B_003",
			wantRel: filepath.Join("CASE-001", "S1", "B", "CASE-001_S1_OBJECT-B_003.jpg"),
		},
		{
			name:    "reconditioned with object selected files at seal level",
			req:     Request{Context: ctxFor("C", "S2", "A"), Subject: evidence.SubjectReconditioned, Sequence: 1},
			wantID:  "C_S2_RECONDITIONED_001",
			wantRel: filepath.Join("C", "S2", "C_S2_RECONDITIONED_001.jpg"),
		},
		{
			name:    "four digit sequence",
			req:     Request{Context: ctxFor("C", "S1", ""), Subject: evidence.SubjectSealed, Sequence: 1234},
			wantID:  "C_S1_SEALED_1234",
			wantRel: filepath.Join("C", "S1", "C_S1_SEALED_1234.jpg"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Format(tt.req)
			require.NoError(t, err)
			require.Equal(t, tt.wantID, got.Identifier)
			require.Equal(t, tt.wantRel, got.RelPath)

			again, err := e.Format(tt.req)
			require.NoError(t, err)
			require.Equal(t, got, again, "Format must be deterministic")
		})
	}
}

func TestFormat_RejectsIncompleteContext(t *testing.T) {
	e := New(0, "jpg")
	require.Equal(t, ".jpg", e.Extension())

	_, err := e.Format(Request{Context: ctxFor("C", "", ""), Subject: evidence.SubjectSealed, Sequence: 1})
	require.True(t, errors.Is(err, errors.ErrInvalidContext))

	_, err = e.Format(Request{Context: ctxFor("C", "S1", ""), Subject: evidence.SubjectObject, Sequence: 1})
	require.True(t, errors.Is(err, errors.ErrInvalidContext))

	_, err = e.Format(Request{Context: ctxFor("C", "S1", ""), Subject: "SELFIE", Sequence: 1})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = e.Format(Request{Context: ctxFor("C", "S1", ""), Subject: evidence.SubjectSealed, Sequence: 0})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestNext_SkipsUsedIdentifiers(t *testing.T) {
	e := New(0, ".jpg")
	reg := usedSet{
		"C_S1_SEALED_001": true,
		"C_S1_SEALED_002": true,
	}

	got, err := e.Next(Request{Context: ctxFor("C", "S1", ""), Subject: evidence.SubjectSealed, Sequence: 1}, reg)
	require.NoError(t, err)
	require.Equal(t, "C_S1_SEALED_003", got.Identifier)
	require.Equal(t, 3, got.Sequence)
}

func TestNext_ZeroSequenceStartsAtOne(t *testing.T) {
	got, err := New(0, "").Next(Request{Context: ctxFor("C", "S1", ""), Subject: evidence.SubjectSealed}, nil)
	require.NoError(t, err)
	require.Equal(t, "C_S1_SEALED_001", got.Identifier)
	require.Equal(t, filepath.Join("C", "S1", "C_S1_SEALED_001"), got.RelPath)
}

func TestNext_Exhausted(t *testing.T) {
	e := New(5, ".jpg")
	reg := usedSet{}
	for i := 1; i <= 5; i++ {
		reg[fmt.Sprintf("C_S1_CONTENT_%03d", i)] = true
	}

	_, err := e.Next(Request{Context: ctxFor("C", "S1", ""), Subject: evidence.SubjectContent, Sequence: 1}, reg)
	require.True(t, errors.Is(err, errors.ErrNamingExhausted), "got %v", err)

	// one more slot frees the scope
	delete(reg, "C_S1_CONTENT_005")
	got, err := e.Next(Request{Context: ctxFor("C", "S1", ""), Subject: evidence.SubjectContent, Sequence: 1}, reg)
	require.NoError(t, err)
	require.Equal(t, "C_S1_CONTENT_005", got.Identifier)
}

func TestNext_PairwiseDistinct(t *testing.T) {
	e := New(0, ".jpg")
	reg := usedSet{}
	seq := 1
	for i := 0; i < 50; i++ {
		name, err := e.Next(Request{Context: ctxFor("C", "S1", "A"), Subject: evidence.SubjectObject, Sequence: seq}, reg)
		require.NoError(t, err)
		require.False(t, reg[name.Identifier], "identifier %s reused", name.Identifier)
		reg[name.Identifier] = true
		seq = name.Sequence + 1
	}
	require.Len(t, reg, 50)
}

func TestScopeKey(t *testing.T) {
	require.Equal(t, "C/S1/SEALED", ScopeKey(ctxFor("C", "S1", "A"), evidence.SubjectSealed))
	require.Equal(t, "C/S1/A/OBJECT", ScopeKey(ctxFor("C", "S1", "A"), evidence.SubjectObject))
}
