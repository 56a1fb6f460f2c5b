package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), zap.NewNop())
}

func TestRead_EmptyStoreDefaultsToUnset(t *testing.T) {
	s := newTestStore(t)

	sess := s.Read()
	require.Equal(t, Session{}, sess)
	require.False(t, sess.Complete())
}

func TestRead_CorruptNumericsDegradeToUnset(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, zap.NewNop())

	err := os.WriteFile(filepath.Join(dir, fileName),
		[]byte(`{"team_id":"t42","game_token":"tok","current_round":"banana","current_page":"-3"}`), 0o600)
	require.NoError(t, err)

	sess := s.Read()
	require.Equal(t, "t42", sess.TeamID)
	require.Equal(t, "tok", sess.Token)
	require.Zero(t, sess.Round)
	require.Zero(t, sess.Page)
}

func TestRead_CorruptFileDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, zap.NewNop())

	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte("not json"), 0o600))
	require.Equal(t, Session{}, s.Read())
}

func TestWrite_PartialNeverClearsByOmission(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write(Partial{TeamID: "t1", Token: "tok", Round: 2, Page: 5}))
	require.NoError(t, s.Write(Partial{Page: 6}))

	sess := s.Read()
	require.Equal(t, Session{TeamID: "t1", Token: "tok", Round: 2, Page: 6}, sess)
	require.True(t, sess.Complete())
}

func TestClear_RemovesEverythingTogether(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write(Partial{TeamID: "t1", Token: "tok", Round: 1, Page: 1}))
	require.NoError(t, s.Clear())
	require.Equal(t, Session{}, s.Read())

	// clearing an already-empty store is fine
	require.NoError(t, s.Clear())
}
