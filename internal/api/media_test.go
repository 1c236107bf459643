package api

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/persona/internal/storage"
)

var storagePathRE = regexp.MustCompile(`^images/u-1/\d{13}-[0-9a-z]{6}\.png$`)

func createMediaViaAPI(t *testing.T, env *testEnv, typ, contentType string) (mediaID, uploadURL, storagePath string) {
	t.Helper()
	rr := env.do(t, http.MethodPost, "/media", `{"userId":"u-1","type":"`+typ+`","contentType":"`+contentType+`"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("POST /media status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	decodeJSON(t, rr, &resp)
	return resp["mediaId"], resp["uploadUrl"], resp["storagePath"]
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestCreateMedia(t *testing.T) {
	env := setupHandler(t)
	env.createSubject(t, "u-1", "Ada")

	id, uploadURL, path := createMediaViaAPI(t, env, "image", "image/png")
	if !storagePathRE.MatchString(path) {
		t.Errorf("storagePath = %q, want match %s", path, storagePathRE)
	}
	if !strings.HasPrefix(uploadURL, "http://persona.test/uploads/"+path+"?token=") {
		t.Errorf("uploadUrl = %q", uploadURL)
	}

	m, err := env.store.GetMedia(id)
	if err != nil {
		t.Fatalf("GetMedia: %v", err)
	}
	if m.Status != storage.StatusPending || m.StoragePath != path || m.OwnerID != "u-1" || m.ContentType != "image/png" {
		t.Errorf("record = %+v", m)
	}
}

func TestCreateMedia_SignedURLAlias(t *testing.T) {
	env := setupHandler(t)
	env.createSubject(t, "u-1", "Ada")

	rr := env.do(t, http.MethodPost, "/media/signed-url", `{"userId":"u-1","type":"audio","contentType":"audio/mpeg"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if !strings.HasPrefix(resp["storagePath"], "audio/u-1/") || !strings.HasSuffix(resp["storagePath"], ".mp3") {
		t.Errorf("storagePath = %q", resp["storagePath"])
	}
}

func TestCreateMedia_Errors(t *testing.T) {
	env := setupHandler(t)
	env.createSubject(t, "u-1", "Ada")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown subject", `{"userId":"ghost","type":"image","contentType":"image/png"}`, http.StatusNotFound},
		{"bad type", `{"userId":"u-1","type":"video","contentType":"video/mp4"}`, http.StatusBadRequest},
		{"missing content type", `{"userId":"u-1","type":"image"}`, http.StatusBadRequest},
		{"missing user", `{"type":"image","contentType":"image/png"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/media", tt.body)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestUpload_RoundTrip(t *testing.T) {
	env := setupHandler(t)
	env.createSubject(t, "u-1", "Ada")
	_, uploadURL, path := createMediaViaAPI(t, env, "image", "image/png")

	u, err := url.Parse(uploadURL)
	if err != nil {
		t.Fatalf("parsing upload url: %v", err)
	}
	data := pngBytes(t)
	req := httptest.NewRequest(http.MethodPut, u.RequestURI(), bytes.NewReader(data))
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body = %s", rr.Code, rr.Body.String())
	}

	got, err := env.objects.Download(context.Background(), path)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("downloaded bytes differ from upload")
	}
}

func TestUpload_Rejections(t *testing.T) {
	env := setupHandler(t)
	env.createSubject(t, "u-1", "Ada")
	_, uploadURL, path := createMediaViaAPI(t, env, "image", "image/png")
	u, _ := url.Parse(uploadURL)
	token := u.Query().Get("token")

	put := func(target string, body []byte) int {
		req := httptest.NewRequest(http.MethodPut, target, bytes.NewReader(body))
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := put("/uploads/"+path, pngBytes(t)); code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", code)
	}
	if code := put("/uploads/images/u-1/other.png?token="+url.QueryEscape(token), pngBytes(t)); code != http.StatusUnauthorized {
		t.Errorf("token for other path: status = %d, want 401", code)
	}
	if code := put("/uploads/"+path+"?token="+url.QueryEscape(env.token), pngBytes(t)); code != http.StatusUnauthorized {
		t.Errorf("api token: status = %d, want 401", code)
	}
	if code := put(u.RequestURI(), []byte("%PDF-1.4 not an image")); code != http.StatusUnsupportedMediaType {
		t.Errorf("mismatched content: status = %d, want 415", code)
	}
}

func TestGetMedia(t *testing.T) {
	env := setupHandler(t)
	env.createSubject(t, "u-1", "Ada")
	id, _, _ := createMediaViaAPI(t, env, "image", "image/png")

	rr := env.do(t, http.MethodGet, "/media/"+id, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	if resp["status"] != "pending" || resp["mediaType"] != "image" {
		t.Errorf("response = %v", resp)
	}
	if resp["analysisPayload"] != nil || resp["error"] != nil {
		t.Errorf("pending record must have neither payload nor error: %v", resp)
	}
	user, _ := resp["user"].(map[string]any)
	if user["id"] != "u-1" || user["name"] != "Ada" {
		t.Errorf("user = %v", resp["user"])
	}

	if rr := env.do(t, http.MethodGet, "/media/missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing media status = %d, want 404", rr.Code)
	}
}

func TestTriggerAnalysis(t *testing.T) {
	env := setupHandler(t)
	env.createSubject(t, "u-1", "Ada")
	id, _, _ := createMediaViaAPI(t, env, "image", "image/png")

	rr := env.do(t, http.MethodPost, "/media/"+id+"/analysis", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "processing" || resp["mediaId"] != id {
		t.Errorf("response = %v", resp)
	}

	rr = env.do(t, http.MethodPost, "/media/"+id+"/analysis", "")
	if rr.Code != http.StatusConflict {
		t.Errorf("second trigger status = %d, want 409", rr.Code)
	}
	if got := errorType(t, rr); got != "conflict" {
		t.Errorf("error type = %q, want conflict", got)
	}

	if rr := env.do(t, http.MethodPost, "/media/missing/analysis", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown media status = %d, want 404", rr.Code)
	}

	if err := env.store.CompleteAnalysis(id, []byte(`{"provider":"openai_vision","description":"x","timestamp":"2026-01-02T03:04:05Z","size":{"originalWidth":1,"originalHeight":1,"width":1,"height":1,"resized":false}}`)); err != nil {
		t.Fatalf("CompleteAnalysis: %v", err)
	}
	rr = env.do(t, http.MethodPost, "/media/"+id+"/analysis", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("succeeded record status = %d, want 400", rr.Code)
	}
	if got := errorType(t, rr); got != "invalid_state" {
		t.Errorf("error type = %q, want invalid_state", got)
	}
}

func TestTriggerAnalysis_ConcurrentRequests(t *testing.T) {
	env := setupHandler(t)
	env.createSubject(t, "u-1", "Ada")
	id, _, _ := createMediaViaAPI(t, env, "audio", "audio/mpeg")

	const n = 8
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = env.do(t, http.MethodPost, "/media/"+id+"/analysis", "").Code
		}(i)
	}
	wg.Wait()

	accepted, conflicts := 0, 0
	for _, c := range codes {
		switch c {
		case http.StatusAccepted:
			accepted++
		case http.StatusConflict:
			conflicts++
		}
	}
	if accepted != 1 || conflicts != n-1 {
		t.Errorf("codes = %v, want exactly one 202 and the rest 409", codes)
	}
}

func TestResetAnalysis(t *testing.T) {
	env := setupHandler(t)
	env.createSubject(t, "u-1", "Ada")
	id, _, _ := createMediaViaAPI(t, env, "audio", "audio/mpeg")

	if rr := env.do(t, http.MethodPost, "/media/"+id+"/reset", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("reset of pending status = %d, want 400", rr.Code)
	}

	if rr := env.do(t, http.MethodPost, "/media/"+id+"/analysis", ""); rr.Code != http.StatusAccepted {
		t.Fatalf("trigger status = %d", rr.Code)
	}
	if err := env.store.FailAnalysis(id, "audio provider API key not configured", "kind=provider_config"); err != nil {
		t.Fatalf("FailAnalysis: %v", err)
	}
	if rr := env.do(t, http.MethodPost, "/media/"+id+"/analysis", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("trigger of failed status = %d, want 400", rr.Code)
	}

	rr := env.do(t, http.MethodPost, "/media/"+id+"/reset", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("reset status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	if resp["status"] != "pending" || resp["error"] != nil {
		t.Errorf("reset response = %v", resp)
	}

	if rr := env.do(t, http.MethodPost, "/media/"+id+"/analysis", ""); rr.Code != http.StatusAccepted {
		t.Errorf("trigger after reset status = %d, want 202", rr.Code)
	}
}
