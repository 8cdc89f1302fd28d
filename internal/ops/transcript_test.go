package ops

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/cardvault/internal/db"
	"github.com/hpungsan/cardvault/internal/errors"
	"github.com/hpungsan/cardvault/internal/rewrite"
	"github.com/hpungsan/cardvault/internal/transcript"
)

func structuredLog(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `{"name":"Aria","is_user":%t,"mes":"line %d foo"}`+"\n", i%2 == 0, i)
		if i%7 == 0 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func TestAddSession_DetectsKindAndCounts(t *testing.T) {
	ctx := context.Background()
	deps, _ := newTestDeps(t)
	c := ingestJSON(t, deps, `{"name":"Aria"}`)

	tests := []struct {
		name     string
		fileName string
		data     string
		kind     transcript.Kind
		count    int
	}{
		{"structured", "log.jsonl", structuredLog(12), transcript.KindStructured, 12},
		{"free-form", "chat.txt", "[#1] Alice\nHi Bob\n[#2] Bob\nHi Alice\n", transcript.KindFreeForm, 2},
		{"empty", "empty.txt", "", transcript.KindUnknown, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := AddSession(ctx, deps, AddSessionInput{CardID: c.ID, FileName: tt.fileName, Data: []byte(tt.data)})
			require.NoError(t, err)
			require.Equal(t, tt.kind, s.Kind)
			require.Equal(t, tt.count, s.MessageCount)
			require.Equal(t, int64(len(tt.data)), s.FileSize)
			require.True(t, strings.HasSuffix(s.ObjectKey, "/chat_history/"+tt.fileName))
		})
	}

	list, err := ListSessions(deps.DB, ListSessionsInput{CardID: c.ID})
	require.NoError(t, err)
	require.Equal(t, 3, list.Pagination.Total)
}

func TestAddSession_Validation(t *testing.T) {
	ctx := context.Background()
	deps, _ := newTestDeps(t)
	c := ingestJSON(t, deps, `{"name":"Aria"}`)

	_, err := AddSession(ctx, deps, AddSessionInput{FileName: "a.txt"})
	requireCode(t, err, errors.ErrInvalidRequest)
	_, err = AddSession(ctx, deps, AddSessionInput{CardID: c.ID})
	requireCode(t, err, errors.ErrInvalidRequest)
	_, err = AddSession(ctx, deps, AddSessionInput{CardID: "01NOPE", FileName: "a.txt"})
	requireCode(t, err, errors.ErrNotFound)

	deps.Store = nil
	_, err = AddSession(ctx, deps, AddSessionInput{CardID: c.ID, FileName: "a.txt"})
	requireCode(t, err, errors.ErrInternal)
}

func TestReadTranscriptPage(t *testing.T) {
	ctx := context.Background()
	deps, _ := newTestDeps(t)
	c := ingestJSON(t, deps, `{"name":"Aria"}`)
	_, err := SetRules(deps.DB, SetRulesInput{
		RulesInput: RulesInput{Scope: rewrite.ScopeGlobal},
		Rules:      []rewrite.Rule{{ID: "g1", Regex: "foo", Replace: "bar"}, {ID: "bad", Regex: "(?<"}},
	})
	require.NoError(t, err)

	s, err := AddSession(ctx, deps, AddSessionInput{CardID: c.ID, FileName: "log.jsonl", Data: []byte(structuredLog(25))})
	require.NoError(t, err)

	page, err := ReadTranscriptPage(ctx, deps, PageInput{SessionID: s.ID, Page: 2, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page.Records, 10)
	require.True(t, page.HasMore)
	require.Equal(t, transcript.KindStructured, page.Kind)
	for i, r := range page.Records {
		n := 11 + i
		require.Equal(t, fmt.Sprintf("line %d foo", n), r.Mes)
		require.Equal(t, fmt.Sprintf("line %d bar", n), r.CleanText)
		require.Equal(t, n%2 == 0, r.IsUser)
	}
	require.Len(t, page.SkippedRules, 1)
	require.Equal(t, "bad", page.SkippedRules[0].RuleID)

	last, err := ReadTranscriptPage(ctx, deps, PageInput{SessionID: s.ID, Page: 3, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, last.Records, 5)
	require.False(t, last.HasMore)

	past, err := ReadTranscriptPage(ctx, deps, PageInput{SessionID: s.ID, Page: 9, PageSize: 10})
	require.NoError(t, err)
	require.Empty(t, past.Records)
	require.False(t, past.HasMore)

	// Defaults
	first, err := ReadTranscriptPage(ctx, deps, PageInput{SessionID: s.ID})
	require.NoError(t, err)
	require.Equal(t, 1, first.Page)
	require.Equal(t, deps.Config.DefaultPageSize, first.PageSize)
	require.Len(t, first.Records, 20)
	require.True(t, first.HasMore)
}

func TestReadTranscriptPage_InvalidWindow(t *testing.T) {
	ctx := context.Background()
	deps, _ := newTestDeps(t)

	tests := []struct {
		name  string
		input PageInput
		code  errors.ErrorCode
	}{
		{"negative page", PageInput{SessionID: "x", Page: -1}, errors.ErrInvalidRequest},
		{"negative size", PageInput{SessionID: "x", PageSize: -5}, errors.ErrInvalidRequest},
		{"size over max", PageInput{SessionID: "x", PageSize: 201}, errors.ErrInvalidRequest},
		{"missing session id", PageInput{}, errors.ErrInvalidRequest},
		{"unknown session", PageInput{SessionID: "01NOPE"}, errors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadTranscriptPage(ctx, deps, tt.input)
			requireCode(t, err, tt.code)
		})
	}
}

func TestReadTranscriptPage_DetectsUnknownKind(t *testing.T) {
	ctx := context.Background()
	deps, store := newTestDeps(t)
	c := ingestJSON(t, deps, `{"name":"Aria"}`)

	key := "abcd1234/chat_history/export.dat"
	require.NoError(t, store.PutObject(ctx, key, []byte(structuredLog(3)), ""))
	require.NoError(t, db.InsertSession(deps.DB, &db.Session{
		ID: "01SESS", CardID: c.ID, FileName: "export.dat", ObjectKey: key, CreatedAt: 1,
	}))

	page, err := ReadTranscriptPage(ctx, deps, PageInput{SessionID: "01SESS"})
	require.NoError(t, err)
	require.Equal(t, transcript.KindStructured, page.Kind)
	require.Len(t, page.Records, 3)
	require.Equal(t, "Aria", page.Records[0].Name)

	s, err := db.GetSession(deps.DB, "01SESS")
	require.NoError(t, err)
	require.Equal(t, transcript.KindStructured, s.Kind)
}

func TestReadTranscriptPage_MissingObject(t *testing.T) {
	ctx := context.Background()
	deps, store := newTestDeps(t)
	c := ingestJSON(t, deps, `{"name":"Aria"}`)

	s, err := AddSession(ctx, deps, AddSessionInput{CardID: c.ID, FileName: "log.jsonl", Data: []byte(structuredLog(2))})
	require.NoError(t, err)
	require.NoError(t, store.FSStore.DeleteObject(ctx, s.ObjectKey))

	_, err = ReadTranscriptPage(ctx, deps, PageInput{SessionID: s.ID})
	requireCode(t, err, errors.ErrTranscriptRetrieval)
	require.Equal(t, errors.StageRetrieve, errors.StageOf(err))

	// The session row is untouched.
	again, err := db.GetSession(deps.DB, s.ID)
	require.NoError(t, err)
	require.Equal(t, s.Kind, again.Kind)
}

func TestReadTranscriptPage_FreeFormLines(t *testing.T) {
	ctx := context.Background()
	deps, _ := newTestDeps(t)
	c := ingestJSON(t, deps, `{"name":"Aria"}`)

	s, err := AddSession(ctx, deps, AddSessionInput{
		CardID:   c.ID,
		FileName: "chat.txt",
		Data:     []byte("[#1] Alice\nHi Bob\n[#2] Bob\nHi Alice\n"),
	})
	require.NoError(t, err)

	page, err := ReadTranscriptPage(ctx, deps, PageInput{SessionID: s.ID, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, transcript.KindFreeForm, page.Kind)
	require.Len(t, page.Records, 2)
	require.True(t, page.Records[0].IsRawText)
	require.Equal(t, "[#1] Alice", page.Records[0].Mes)
	require.True(t, page.HasMore)
}

func TestDeleteSession(t *testing.T) {
	ctx := context.Background()
	deps, store := newTestDeps(t)
	c := ingestJSON(t, deps, `{"name":"Aria"}`)

	s, err := AddSession(ctx, deps, AddSessionInput{CardID: c.ID, FileName: "a.jsonl", Data: []byte(structuredLog(1))})
	require.NoError(t, err)

	out, err := DeleteSession(ctx, deps, s.ID)
	require.NoError(t, err)
	require.True(t, out.Deleted)
	_, err = store.GetObjectStream(ctx, s.ObjectKey)
	require.Error(t, err)

	_, err = DeleteSession(ctx, deps, s.ID)
	requireCode(t, err, errors.ErrNotFound)
}

func TestDeleteSession_StorageFailureStillDeletesRow(t *testing.T) {
	ctx := context.Background()
	deps, store := newTestDeps(t)
	c := ingestJSON(t, deps, `{"name":"Aria"}`)

	s, err := AddSession(ctx, deps, AddSessionInput{CardID: c.ID, FileName: "a.jsonl", Data: []byte(structuredLog(1))})
	require.NoError(t, err)

	store.failDelete = true
	_, err = DeleteSession(ctx, deps, s.ID)
	require.NoError(t, err)

	_, err = db.GetSession(deps.DB, s.ID)
	requireCode(t, err, errors.ErrNotFound)
}

func TestPresignSession(t *testing.T) {
	ctx := context.Background()
	deps, _ := newTestDeps(t)
	c := ingestJSON(t, deps, `{"name":"Aria"}`)

	s, err := AddSession(ctx, deps, AddSessionInput{CardID: c.ID, FileName: "a.jsonl", Data: []byte(structuredLog(1))})
	require.NoError(t, err)

	out, err := PresignSession(ctx, deps, s.ID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out.URL, "file://"))
	require.Equal(t, 3600, out.ExpiresIn)

	_, err = PresignSession(ctx, deps, "01NOPE")
	requireCode(t, err, errors.ErrNotFound)
}

func TestParseTranscript(t *testing.T) {
	ctx := context.Background()
	deps, _ := newTestDeps(t)

	text := "[#1] Alice\nHi Bob\n```css\np{}\n```\n[#2] Bob\nHi Alice\n"
	out, err := ParseTranscript(ctx, deps, ParseInput{Text: text})
	require.NoError(t, err)
	require.Equal(t, transcript.KindFreeForm, out.Kind)
	require.Equal(t, 2, out.Total)
	require.Len(t, out.Records, 2)
	require.False(t, out.HasMore)
	require.Equal(t, "Alice", out.Records[0].Name)
	require.Len(t, out.Records[0].RenderParts, 1)
	require.Equal(t, []string{"p{}\n"}, out.Records[0].RenderParts[0].CSS)
	require.Equal(t, "Bob", out.Records[1].Name)
	require.Equal(t, "Hi Alice", out.Records[1].Mes)

	paged, err := ParseTranscript(ctx, deps, ParseInput{Text: structuredLog(5), Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, transcript.KindStructured, paged.Kind)
	require.Equal(t, 5, paged.Total)
	require.Len(t, paged.Records, 2)
	require.True(t, paged.HasMore)
	require.Equal(t, "line 3 foo", paged.Records[0].Mes)

	beyond, err := ParseTranscript(ctx, deps, ParseInput{Text: structuredLog(5), Page: 4, PageSize: 2})
	require.NoError(t, err)
	require.Empty(t, beyond.Records)
	require.False(t, beyond.HasMore)
}

func TestParseTranscript_PageOutOfRange(t *testing.T) {
	deps, _ := newTestDeps(t)

	_, err := ParseTranscript(context.Background(), deps, ParseInput{
		Text:     structuredLog(5),
		Page:     math.MaxInt / 100,
		PageSize: 200,
	})
	requireCode(t, err, errors.ErrInvalidRequest)
}

func TestReadUploadFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "card.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"name":"A"}`), 0600))

	data, err := ReadUploadFile(file)
	require.NoError(t, err)
	require.Equal(t, `{"name":"A"}`, string(data))

	_, err = ReadUploadFile("")
	requireCode(t, err, errors.ErrInvalidRequest)
	_, err = ReadUploadFile(dir)
	requireCode(t, err, errors.ErrInvalidRequest)
	_, err = ReadUploadFile(filepath.Join(dir, "missing.json"))
	requireCode(t, err, errors.ErrNotFound)

	link := filepath.Join(dir, "link.json")
	if err := os.Symlink(file, link); err == nil {
		_, err = ReadUploadFile(link)
		requireCode(t, err, errors.ErrInvalidRequest)
	}
}
