package wordlist

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlacklist_Blocks(t *testing.T) {
	bl := NewBlacklist([]string{"spam"})

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"exact word", "this is spam", true},
		{"substring of longer word", "spammer-free zone", true},
		{"uppercase text", "SPAM SPAM", true},
		{"clean", "clean", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bl.Blocks(tt.text))
		})
	}
}

func TestBlacklist_NilAndEmptyNeverBlock(t *testing.T) {
	var nilList *Blacklist
	assert.False(t, nilList.Blocks("anything"))
	assert.False(t, NewBlacklist(nil).Blocks("anything"))
}

func TestParseBlacklist(t *testing.T) {
	bl, err := ParseBlacklist(strings.NewReader("  Spam \n\nBadWord\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"spam", "badword"}, bl.Entries())
}

func TestParseSlang_KeepsOrderAndSkipsMalformed(t *testing.T) {
	doc := `{"\\bu\\b": "you", "(?<=x)y": "bad", "\\bur\\b": "your", "you": "YOU"}`
	table, err := ParseSlang(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())

	// rules run in document order: "u" -> "you" happens before "you" -> "YOU"
	assert.Equal(t, "YOU and YOUr cat", table.Expand("U and ur cat"))
}

func TestParseSlang_Empty(t *testing.T) {
	table, err := ParseSlang(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, "hello", table.Expand("HELLO"))
}

func TestParseSlang_RejectsNonObject(t *testing.T) {
	_, err := ParseSlang(strings.NewReader(`["a"]`))
	require.Error(t, err)
}

func TestSlangTable_ExpandLowercases(t *testing.T) {
	table := NewSlangTable([]SlangRule{{Pattern: regexp.MustCompile(`\bgg\b`), Replacement: "good game"}})
	assert.Equal(t, "good game wp", table.Expand("GG WP"))
}

func TestStore_ReloadAndMissingFiles(t *testing.T) {
	dir := t.TempDir()
	blPath := filepath.Join(dir, "blacklist.txt")
	slPath := filepath.Join(dir, "slang.json")

	s := NewStore(blPath, slPath)
	require.NoError(t, s.Reload())
	assert.Equal(t, 0, s.Blacklist().Len())
	assert.Equal(t, 0, s.Slang().Len())

	require.NoError(t, os.WriteFile(blPath, []byte("spam\nscam\n"), 0o600))
	require.NoError(t, os.WriteFile(slPath, []byte(`{"\\bbrb\\b": "be right back"}`), 0o600))
	require.NoError(t, s.Reload())
	assert.Equal(t, []string{"spam", "scam"}, s.Blacklist().Entries())
	assert.Equal(t, "be right back", s.Slang().Expand("BRB"))
}

func TestStore_BadSlangKeepsPreviousSnapshot(t *testing.T) {
	dir := t.TempDir()
	slPath := filepath.Join(dir, "slang.json")
	require.NoError(t, os.WriteFile(slPath, []byte(`{"a": "b"}`), 0o600))

	s := NewStore("", slPath)
	require.NoError(t, s.ReloadSlang())
	prev := s.Slang()

	require.NoError(t, os.WriteFile(slPath, []byte(`{not json`), 0o600))
	require.Error(t, s.ReloadSlang())
	assert.Same(t, prev, s.Slang())
}

func TestStore_SaveBlacklist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.txt")
	s := NewStore(path, "")

	require.NoError(t, s.SaveBlacklist([]string{"Foo", "", " bar "}))
	assert.Equal(t, []string{"foo", "bar"}, s.Blacklist().Entries())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "foo\nbar\n", string(raw))

	// a fresh store reading the same file sees the same list
	s2 := NewStore(path, "")
	require.NoError(t, s2.ReloadBlacklist())
	assert.Equal(t, s.Blacklist().Entries(), s2.Blacklist().Entries())
}

func TestStore_ConcurrentReadsDuringSwap(t *testing.T) {
	s := NewStore("", "")
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				_ = s.Blacklist().Blocks("some text")
			}
		}()
	}
	for j := 0; j < 100; j++ {
		s.SetBlacklist(NewBlacklist([]string{"x"}))
		s.SetBlacklist(nil)
	}
	wg.Wait()
	assert.NotNil(t, s.Blacklist())
}
