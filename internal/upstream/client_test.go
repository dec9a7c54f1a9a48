package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/", "server-key", 5*time.Second, opts...)
	require.NoError(t, err)
	return c
}

func TestNewRequiresConfiguration(t *testing.T) {
	_, err := New("", "key", time.Second)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = New("http://renamer", "", time.Second)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSubmitRenameForwardsMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/jobs/rename", r.URL.Path)
		assert.Equal(t, "Bearer server-key", r.Header.Get("Authorization"))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "name them by animal", r.FormValue("user_prompt"))

		files := r.MultipartForm.File["files"]
		if !assert.Len(t, files, 2) {
			return
		}
		assert.Equal(t, "a.png", files[0].Filename)
		assert.Equal(t, "image/png", files[0].Header.Get("Content-Type"))
		assert.Equal(t, "b.jpg", files[1].Filename)

		f, err := files[1].Open()
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(f)
		assert.Equal(t, "jpeg-bytes", string(data))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"job_id":"job-1","status":"queued","count":2}`))
	})

	form := &Form{}
	form.AddField("user_prompt", "name them by animal")
	form.AddFile(File{Field: "files", Name: "a.png", ContentType: "image/png", Data: []byte("png-bytes")})
	form.AddFile(File{Field: "files", Name: "b.jpg", ContentType: "image/jpeg", Data: []byte("jpeg-bytes")})

	resp, err := c.SubmitRename(context.Background(), form)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "application/json", resp.ContentType)

	sr, err := ParseSubmit(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "job-1", sr.JobID)
	assert.Equal(t, 2, sr.Count)
}

func TestRawResponsesAreVerbatim(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/jobs/job%2F1/progress", r.URL.EscapedPath())
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("busy"))
	})

	resp, err := c.ProgressRaw(context.Background(), "job/1")
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.ContentType)
	assert.Equal(t, "busy", string(resp.Body))
}

func TestMissingContentTypeDefaultsToJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		w.WriteHeader(http.StatusOK)
	})

	resp, err := c.ResultsRaw(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "application/json", resp.ContentType)
}

func TestTypedCalls(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/jobs/job-1/progress":
			w.Write([]byte(`{"completed":2,"total":3,"latest_results":[{"index":1,"original":"b.jpg","suggested":"beach.jpg"}]}`))
		case "/v1/jobs/job-1/results":
			w.Write([]byte(`{"status":"completed","results":[{"index":0,"original":"a.png","suggested":"cat.png"},{"index":1,"original":"b.png","suggested":null,"error":"unreadable"}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	p, err := c.Progress(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Completed)
	assert.Equal(t, 3, p.Total)
	require.Len(t, p.LatestResults, 1)

	res, err := c.Results(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", res.Status)
	require.Len(t, res.Results, 2)
	assert.False(t, res.Results[0].Failed())
	assert.True(t, res.Results[1].Failed())

	_, err = c.Results(context.Background(), "missing")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestResponseBodyLimit(t *testing.T) {
	body := `{"completed":1,"total":2}`
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}

	c := newTestClient(t, handler, WithMaxResponseBytes(int64(len(body))))
	resp, err := c.ProgressRaw(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, body, string(resp.Body))

	c = newTestClient(t, handler, WithMaxResponseBytes(int64(len(body)-1)))
	_, err = c.ProgressRaw(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c, err := New(srv.URL, "server-key", time.Second)
	require.NoError(t, err)

	_, err = c.ProgressRaw(context.Background(), "job-1")
	assert.True(t, errors.Is(err, ErrUnreachable))
}

func TestParseSubmitWithoutJobID(t *testing.T) {
	_, err := ParseSubmit([]byte(`{"status":"queued"}`))
	assert.Error(t, err)

	_, err = ParseSubmit([]byte(`not json`))
	assert.Error(t, err)
}

func TestRateLimitHonoursContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	WithRateLimit(0.001, 1)(c)

	_, err := c.ProgressRaw(context.Background(), "job-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.ProgressRaw(ctx, "job-1")
	assert.ErrorIs(t, err, ErrUnreachable)
}
