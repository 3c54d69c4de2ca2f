package nocodb

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

const tablePath = "/api/v1/db/data/v1/p/articles"

// fakeTable is a minimal NocoDB table keyed by articleUrl.
type fakeTable struct {
	mu      sync.Mutex
	rows    []map[string]any
	queries []map[string]string
	tokens  []string
}

func (f *fakeTable) router(t *testing.T) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			f.tokens = append(f.tokens, req.Header.Get(TokenHeader))
			f.mu.Unlock()
			next.ServeHTTP(w, req)
		})
	})
	r.Get(tablePath, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		f.mu.Lock()
		f.queries = append(f.queries, map[string]string{
			"where":  q.Get("where"),
			"fields": q.Get("fields"),
			"sort":   q.Get("sort"),
			"limit":  q.Get("limit"),
		})
		rows := append([]map[string]any(nil), f.rows...)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"list":     rows,
			"pageInfo": map[string]any{"totalRows": len(rows)},
		})
	})
	r.Post(tablePath, func(w http.ResponseWriter, req *http.Request) {
		row := decodeRow(t, req.Body)
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, existing := range f.rows {
			if existing["articleUrl"] == row["articleUrl"] {
				writeJSON(w, http.StatusConflict, map[string]any{"msg": "articleUrl must be unique"})
				return
			}
		}
		if _, ok := row["Id"]; ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"msg": "Id is read only"})
			return
		}
		row["Id"] = float64(len(f.rows) + 1)
		f.rows = append(f.rows, row)
		writeJSON(w, http.StatusOK, row)
	})
	r.Patch(tablePath, func(w http.ResponseWriter, req *http.Request) {
		row := decodeRow(t, req.Body)
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, existing := range f.rows {
			if existing["Id"] == row["Id"] {
				f.rows[i] = row
				writeJSON(w, http.StatusOK, map[string]any{"Id": row["Id"]})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"msg": "not found"})
	})
	return r
}

func decodeRow(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var row map[string]any
	assert.NoError(t, json.NewDecoder(body).Decode(&row))
	return row
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(Config{BaseURL: srv.URL + tablePath, Token: "secret"}, srv.Client())
	require.NoError(t, err)
	return client
}

func sampleRecord() crawler.Record {
	return crawler.Record{
		OriginalTitle:         "中国向肯尼亚提供贷款",
		OriginalContent:       "正文",
		OriginalLanguage:      "zh",
		Source:                "MOFCOM",
		ArticlePublishDateEst: "2024-05-02 22:30",
		ArticleURL:            "http://ke.mofcom.gov.cn/article/1.shtml",
		Country:               "Kenya",
		Region:                "Africa",
		Keywords:              "贷款,中国",
	}
}

func TestClientFindSendsQuery(t *testing.T) {
	t.Parallel()

	table := &fakeTable{rows: []map[string]any{{"Id": 3, "articlePublishDateEst": "2024-05-02 22:30"}}}
	client := newTestClient(t, table.router(t))

	page, err := client.Find(context.Background(), crawler.Query{
		Where: crawler.Where(crawler.FieldCountry, crawler.OpEq, "Kenya").And(crawler.Condition{
			Field: crawler.FieldPublishDate, Op: crawler.OpLte, Sub: "exactDate", Value: "2024-07-01",
		}),
		Fields: []string{crawler.FieldPublishDate},
		Sort:   "-" + crawler.FieldPublishDate,
		Limit:  1,
	})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalRows)
	require.Len(t, page.Records, 1)
	require.Equal(t, int64(3), page.Records[0].ID)
	require.Equal(t, "2024-05-02 22:30", page.Records[0].ArticlePublishDateEst)

	require.Equal(t, []map[string]string{{
		"where":  "(country,eq,Kenya)~and(articlePublishDateEst,lte,exactDate,2024-07-01)",
		"fields": "articlePublishDateEst",
		"sort":   "-articlePublishDateEst",
		"limit":  "1",
	}}, table.queries)
	require.Equal(t, []string{"secret"}, table.tokens)
}

func TestClientCreateAndConflict(t *testing.T) {
	t.Parallel()

	table := &fakeTable{}
	client := newTestClient(t, table.router(t))
	ctx := context.Background()

	rec := sampleRecord()
	rec.ID = 99
	created, err := client.Create(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, int64(1), created.ID)
	require.Equal(t, rec.ArticleURL, created.ArticleURL)
	require.Equal(t, "贷款,中国", created.Keywords)

	_, err = client.Create(ctx, sampleRecord())
	require.ErrorIs(t, err, crawler.ErrAlreadyExists)
	var statusErr *crawler.HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusConflict, statusErr.StatusCode)
	require.Len(t, table.rows, 1)
}

func TestClientStatusErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		conflict bool
	}{
		{name: "duplicate key", status: http.StatusBadRequest, body: `{"msg":"Duplicate entry for key articleUrl"}`, conflict: true},
		{name: "unique constraint", status: http.StatusUnprocessableEntity, body: `{"msg":"violates unique constraint"}`, conflict: true},
		{name: "bad request", status: http.StatusBadRequest, body: `{"msg":"invalid column"}`},
		{name: "server error", status: http.StatusInternalServerError, body: "boom"},
		{name: "unauthorized", status: http.StatusUnauthorized, body: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			_, err := client.Create(context.Background(), sampleRecord())
			require.Error(t, err)
			require.Equal(t, tt.conflict, errors.Is(err, crawler.ErrAlreadyExists))
			var statusErr *crawler.HTTPStatusError
			require.True(t, errors.As(err, &statusErr))
			require.Equal(t, tt.status, statusErr.StatusCode)
			require.NotContains(t, statusErr.URL, "?")
		})
	}
}

func TestClientFindDecodeError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	_, err := client.Find(context.Background(), crawler.Query{Limit: 1})
	require.ErrorContains(t, err, "decode list response")
}

func TestClientUpdate(t *testing.T) {
	t.Parallel()

	table := &fakeTable{}
	client := newTestClient(t, table.router(t))
	ctx := context.Background()

	created, err := client.Create(ctx, sampleRecord())
	require.NoError(t, err)

	created.OriginalOutlet = "驻肯尼亚使馆经商处"
	updated, err := client.Update(ctx, created)
	require.NoError(t, err)
	require.Equal(t, created.ID, updated.ID)
	require.Equal(t, "驻肯尼亚使馆经商处", updated.OriginalOutlet)
	require.Equal(t, "驻肯尼亚使馆经商处", table.rows[0]["originalOutlet"])

	_, err = client.Update(ctx, sampleRecord())
	require.ErrorContains(t, err, "record id")
}

func TestNewRejectsRelativeURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseURL: "articles"}, nil)
	require.ErrorContains(t, err, "absolute")
}

func TestRenderFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filter crawler.Filter
		want   string
	}{
		{filter: nil, want: ""},
		{filter: crawler.Where(crawler.FieldURL, crawler.OpEq, "http://a/1"), want: "(articleUrl,eq,http://a/1)"},
		{
			filter: crawler.Where("a", crawler.OpNeq, "null").And(crawler.Condition{Field: "a", Op: crawler.OpNeq, Value: "''"}),
			want:   "(a,neq,null)~and(a,neq,'')",
		},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, RenderFilter(tt.filter))
	}
	require.Empty(t, EncodeQuery(crawler.Query{}).Encode())
}
