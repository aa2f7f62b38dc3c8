package backup

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestSelectForDeletionIgnoresForeignFiles(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Name: "2024-01-01.tar.gz", ModTime: base},
		{Name: "latest.tar.gz", ModTime: base.Add(-time.Hour)},
		{Name: "2024-01-02.tar.gz.partial", ModTime: base.Add(-time.Hour)},
		{Name: "2024-01-02.tar.gz", ModTime: base.Add(time.Hour)},
	}
	got := SelectForDeletion(entries, 1)
	assert.Equal(t, []Entry{entries[0]}, got)
}

func TestSelectForDeletionTiebreaksOnName(t *testing.T) {
	same := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Name: "2024-01-03.tar.gz", ModTime: same},
		{Name: "2024-01-01.tar.gz", ModTime: same},
		{Name: "2024-01-02.tar.gz", ModTime: same},
	}
	got := SelectForDeletion(entries, 1)
	assert.Equal(t, []Entry{entries[1], entries[2]}, got)
}

func TestSelectForDeletionRetainsNewest(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		n := rapid.IntRange(0, 30).Draw(t, "count")
		keep := rapid.IntRange(-2, 35).Draw(t, "keep")

		entries := make([]Entry, n)
		for i := range entries {
			entries[i] = Entry{
				Name:    fmt.Sprintf("%s.tar.gz", base.AddDate(0, 0, i).Format("2006-01-02")),
				ModTime: base.Add(time.Duration(rapid.IntRange(0, 1000).Draw(t, "mtime")) * time.Minute),
			}
		}

		deleted := SelectForDeletion(entries, keep)

		want := 0
		if keep > 0 && n > keep {
			want = n - keep
		}
		if len(deleted) != want {
			t.Fatalf("deleted %d of %d with keep=%d, want %d", len(deleted), n, keep, want)
		}

		gone := map[string]bool{}
		for _, e := range deleted {
			gone[e.Name] = true
		}
		for _, d := range deleted {
			for _, e := range entries {
				if gone[e.Name] {
					continue
				}
				if d.ModTime.After(e.ModTime) {
					t.Fatalf("deleted %s (%v) is newer than kept %s (%v)", d.Name, d.ModTime, e.Name, e.ModTime)
				}
			}
		}
	})
}
