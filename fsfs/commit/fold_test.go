package commit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcowham/svnfsfs/fsfs/transaction"
)

func TestFoldTwoDeletesCollapseToOne(t *testing.T) {
	changes := []transaction.Change{
		{Path: "/a", ID: "1.0.r1/0", Kind: transaction.ChangeDelete},
		{Path: "/a", ID: "1.0.r1/0", Kind: transaction.ChangeDelete},
	}
	folded, err := Fold(changes, false)
	assert.NoError(t, err)
	assert.Len(t, folded, 1)
	assert.Equal(t, transaction.ChangeDelete, folded["/a"].Kind)
}

func TestFoldDeleteThenAddBecomesReplace(t *testing.T) {
	changes := []transaction.Change{
		{Path: "/a", ID: "1.0.r1/0", Kind: transaction.ChangeDelete},
		{Path: "/a", ID: "2.0.t1-0", Kind: transaction.ChangeAdd},
	}
	folded, err := Fold(changes, false)
	assert.NoError(t, err)
	assert.Equal(t, transaction.ChangeReplace, folded["/a"].Kind)
}

func TestFoldAddThenDeleteInSameTxnVanishes(t *testing.T) {
	changes := []transaction.Change{
		{Path: "/a", ID: "2.0.t1-0", Kind: transaction.ChangeAdd},
		{Path: "/a", ID: "2.0.t1-0", Kind: transaction.ChangeDelete},
	}
	folded, err := Fold(changes, false)
	assert.NoError(t, err)
	assert.NotContains(t, folded, "/a")
}

func TestFoldModifyAfterModifyUnionsFlags(t *testing.T) {
	changes := []transaction.Change{
		{Path: "/a", ID: "1.0.t1-0", Kind: transaction.ChangeModify, TextMod: true},
		{Path: "/a", ID: "1.0.t1-0", Kind: transaction.ChangeModify, PropMod: true},
	}
	folded, err := Fold(changes, false)
	assert.NoError(t, err)
	assert.True(t, folded["/a"].TextMod)
	assert.True(t, folded["/a"].PropMod)
}

func TestFoldResetRemovesPath(t *testing.T) {
	changes := []transaction.Change{
		{Path: "/a", ID: "1.0.t1-0", Kind: transaction.ChangeModify, TextMod: true},
		{Path: "/a", Kind: transaction.ChangeReset},
	}
	folded, err := Fold(changes, false)
	assert.NoError(t, err)
	assert.NotContains(t, folded, "/a")
}

func TestFoldRejectsNonResetWithoutID(t *testing.T) {
	changes := []transaction.Change{{Path: "/a", Kind: transaction.ChangeModify}}
	_, err := Fold(changes, false)
	assert.Error(t, err)
}

func TestFoldRejectsAddNotFollowingDeleteOrReset(t *testing.T) {
	changes := []transaction.Change{
		{Path: "/a", ID: "1.0.t1-0", Kind: transaction.ChangeModify, TextMod: true},
		{Path: "/a", ID: "2.0.t1-1", Kind: transaction.ChangeAdd},
	}
	_, err := Fold(changes, false)
	assert.Error(t, err)
}

func TestFoldRejectsNonAddReplaceResetAfterDelete(t *testing.T) {
	changes := []transaction.Change{
		{Path: "/a", ID: "1.0.r1/0", Kind: transaction.ChangeDelete},
		{Path: "/a", ID: "1.0.r1/0", Kind: transaction.ChangeModify},
	}
	_, err := Fold(changes, false)
	assert.Error(t, err)
}

func TestFoldPrunesDescendantsUnderDelete(t *testing.T) {
	changes := []transaction.Change{
		{Path: "/dir", ID: "1.0.r1/0", Kind: transaction.ChangeDelete},
		{Path: "/dir/child", ID: "2.0.r1/0", Kind: transaction.ChangeModify, TextMod: true},
	}
	folded, err := Fold(changes, false)
	assert.NoError(t, err)
	assert.Contains(t, folded, "/dir")
	assert.NotContains(t, folded, "/dir/child")
}

func TestFoldPrefoldedSkipsPruning(t *testing.T) {
	changes := []transaction.Change{
		{Path: "/dir", ID: "1.0.r1/0", Kind: transaction.ChangeDelete},
		{Path: "/dir/child", ID: "2.0.r1/0", Kind: transaction.ChangeModify, TextMod: true},
	}
	folded, err := Fold(changes, true)
	assert.NoError(t, err)
	assert.Contains(t, folded, "/dir")
	assert.Contains(t, folded, "/dir/child")
}

func TestSortedPathsIsLexicographic(t *testing.T) {
	folded := map[string]Folded{
		"/z": {Path: "/z"},
		"/a": {Path: "/a"},
		"/m": {Path: "/m"},
	}
	assert.Equal(t, []string{"/a", "/m", "/z"}, SortedPaths(folded))
}
