package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchkey-labs/pileup/internal/model"
)

const sampleRules = `
# comment line, should be ignored
^.*\.git/config$,*,Code/VCS,keep_parent,final
^/photos/(?P<year>\d{4})/.*\.jpg$,image/jpeg,Photos/{year},disaggregate,final
^/docs/.*\.pdf$,application/pdf,Documents/PDF,keep_except,final
^/ambiguous/.*$,*,Ambiguous,disaggregate,ai
,text/plain,Text/Plain,disaggregate,final
`

func loadSample(t *testing.T) *Engine {
	t.Helper()
	e := New(48)
	require.NoError(t, e.Load(strings.NewReader(sampleRules)))
	return e
}

func TestLoad_FirstMatchWins(t *testing.T) {
	e := loadSample(t)

	m, err := e.MatchFile("/photos/2024/vacation.jpg", "image/jpeg")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 1, m.Rule.Index)

	cat, err := CategoryFor(m)
	require.NoError(t, err)
	assert.Equal(t, "Photos/2024", cat)
}

func TestLoad_MalformedRegexFailsFast(t *testing.T) {
	e := New(48)
	err := e.Load(strings.NewReader("^(unclosed,*,Whatever,keep,final\n"))
	require.Error(t, err)
}

func TestLoad_UnknownFolderActionRejected(t *testing.T) {
	e := New(48)
	err := e.Load(strings.NewReader("^/x/$,*,Whatever,bogus_action,final\n"))
	require.Error(t, err)
}

func TestLoad_UnknownModeRejected(t *testing.T) {
	e := New(48)
	err := e.Load(strings.NewReader("^/x/$,*,Whatever,keep,bogus_mode\n"))
	require.Error(t, err)
}

func TestLoad_MissingCategoryTemplateRejected(t *testing.T) {
	e := New(48)
	err := e.Load(strings.NewReader("^/x/$,*,,keep,final\n"))
	require.Error(t, err)
}

func TestMatchFile_NoMatchReturnsNil(t *testing.T) {
	e := loadSample(t)
	m, err := e.MatchFile("/nowhere/interesting.bin", "application/octet-stream")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestMatchFile_MimeGlobFamily(t *testing.T) {
	e := New(48)
	require.NoError(t, e.Load(strings.NewReader("^/media/.*$,image/*,Media/Images,disaggregate,final\n")))

	m, err := e.MatchFile("/media/a.png", "image/png")
	require.NoError(t, err)
	require.NotNil(t, m)

	m2, err := e.MatchFile("/media/a.mp4", "video/mp4")
	require.NoError(t, err)
	assert.Nil(t, m2)
}

func TestCategoryFor_UnresolvedCaptureErrors(t *testing.T) {
	e := New(48)
	require.NoError(t, e.Load(strings.NewReader(`^/photos/(?P<year>\d{4})/.*\.jpg$,image/jpeg,Photos/{year}/{month},disaggregate,final`+"\n")))

	m, err := e.MatchFile("/photos/2024/a.jpg", "image/jpeg")
	require.NoError(t, err)
	require.NotNil(t, m)

	_, err = CategoryFor(m)
	assert.Error(t, err)
}

func TestCategoryFor_CategoryOverrideCapture(t *testing.T) {
	e := New(48)
	require.NoError(t, e.Load(strings.NewReader(
		`^/dump/(?P<category>[^/]+)/(?P<subcategory>[^/]+)/.*$,*,Default,disaggregate,final`+"\n")))

	m, err := e.MatchFile("/dump/Finance/Taxes/2023.pdf", "application/pdf")
	require.NoError(t, err)
	require.NotNil(t, m)

	cat, err := CategoryFor(m)
	require.NoError(t, err)
	assert.Equal(t, "Finance/Taxes", cat)
}

func TestMatchFolder_KeepParentMarker(t *testing.T) {
	e := loadSample(t)

	m, err := e.MatchFolder("/repos/myproject/.git/config")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, model.ActionKeepParent, m.Rule.FolderAction)
}

func TestIsLegalCategory(t *testing.T) {
	e := New(48)
	require.NoError(t, e.LoadCategories(strings.NewReader("Photos\nDocuments/PDF\n# comment\n")))

	assert.True(t, e.IsLegalCategory("Photos/2024"))
	assert.True(t, e.IsLegalCategory("Documents/PDF"))
	assert.False(t, e.IsLegalCategory("Videos/Clips"))
}

func TestIsLegalCategory_NoCategoriesFileAllowsAll(t *testing.T) {
	e := New(48)
	assert.True(t, e.IsLegalCategory("Anything/Goes"))
}

func TestSortedRuleIndices_Minimality(t *testing.T) {
	e := loadSample(t)
	idxs := e.SortedRuleIndices()
	for i := 1; i < len(idxs); i++ {
		assert.Less(t, idxs[i-1], idxs[i])
	}

	// "/ambiguous/notes.txt" as text/plain matches rules 3 and 4; the
	// lowest-indexed match wins.
	m, err := e.MatchFile("/ambiguous/notes.txt", "text/plain")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 3, m.Rule.Index)
}
