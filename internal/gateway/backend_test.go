package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"

	"github.com/yangwenmai/retromag/internal/model"
)

func newTestImagen(t *testing.T, url string) *imagenClient {
	t.Helper()
	c, err := newImagenClient(context.Background(), imagenConfig{
		apiKey:     "key-mock",
		baseURL:    url,
		model:      "imagen-test",
		httpClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		t.Fatalf("newImagenClient: %v", err)
	}
	return c
}

func TestImagenGenerate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/imagen-test:predict") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "key-mock" {
			t.Errorf("api key header = %q", got)
		}
		var req struct {
			Instances []struct {
				Prompt string `json:"prompt"`
			} `json:"instances"`
			Parameters struct {
				SampleCount int    `json:"sampleCount"`
				AspectRatio string `json:"aspectRatio"`
			} `json:"parameters"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Parameters.AspectRatio != AspectPortrait || req.Parameters.SampleCount != 1 {
			t.Errorf("parameters = %+v", req.Parameters)
		}
		if len(req.Instances) != 1 || req.Instances[0].Prompt != "cp" {
			t.Errorf("instances = %+v", req.Instances)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"predictions":[{"bytesBase64Encoded":"SU1HMQ==","mimeType":"image/jpeg"}]}`)
	}))
	defer srv.Close()

	got, err := newTestImagen(t, srv.URL).generate(context.Background(), "cp", AspectPortrait)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if want := "data:image/jpeg;base64,SU1HMQ=="; got != want {
		t.Errorf("generate = %q, want %q", got, want)
	}
}

func TestGeminiBackend_ImageUsesConfiguredModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/imagen-custom:predict") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"predictions":[{"bytesBase64Encoded":"QQ==","mimeType":"image/png"}]}`)
	}))
	defer srv.Close()

	b, err := NewGeminiBackend(context.Background(), "key-mock",
		WithImagenModel("imagen-custom"),
		WithImagenBaseURL(srv.URL),
		WithGeminiTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("NewGeminiBackend: %v", err)
	}
	defer b.Close()

	got, err := b.Image(context.Background(), ImageRequest{Prompt: "p", AspectRatio: AspectWide})
	if err != nil {
		t.Fatalf("Image: %v", err)
	}
	if got != "data:image/png;base64,QQ==" {
		t.Errorf("Image = %q", got)
	}
}

func TestImagenGenerate_Errors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantRateLimit bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED"}}`, true},
		{"bad request", http.StatusBadRequest, `{"error":{"code":400,"message":"bad prompt"}}`, false},
		{"no predictions", http.StatusOK, `{"predictions":[]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestImagen(t, srv.URL).generate(context.Background(), "p", AspectWide)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := IsRateLimited(err); got != tt.wantRateLimit {
				t.Errorf("IsRateLimited = %v, want %v (err: %v)", got, tt.wantRateLimit, err)
			}
		})
	}
}

func TestGateway_ImagenRetryThroughBackend(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"predictions":[{"bytesBase64Encoded":"QQ==","mimeType":"image/jpeg"}]}`)
	}))
	defer srv.Close()

	b := &GeminiBackend{imagen: newTestImagen(t, srv.URL)}
	var waits []time.Duration
	g := New(b, WithSleep(recordSleep(&waits)))

	got, err := g.GenerateImage(context.Background(), ImageOptions{Prompt: "g", Target: model.KindGameplay})
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if got != "data:image/jpeg;base64,QQ==" {
		t.Errorf("GenerateImage = %q", got)
	}
	if calls != 2 || len(waits) != 1 {
		t.Errorf("calls = %d, waits = %v; want 2 calls and 1 backoff", calls, waits)
	}
}

func chatCompletionJSON(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-mock",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(b)
}

func TestOpenAIBackend_Plan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-mock" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer sk-mock")
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["model"] != "test-model" {
			t.Errorf("model = %v, want test-model", req["model"])
		}
		rf, _ := req["response_format"].(map[string]any)
		if rf["type"] != "json_object" {
			t.Errorf("response_format = %v, want json_object", req["response_format"])
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, chatCompletionJSON(`{"title":"X"}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend("sk-mock", WithBaseURL(srv.URL), WithModel("test-model"))
	got, err := b.Plan(context.Background(), PlanRequest{Prompt: "plan it"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got != `{"title":"X"}` {
		t.Errorf("Plan = %q", got)
	}
}

func TestOpenAIBackend_TextRateLimited(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"Rate limit reached","type":"requests"}}`)
	}))
	defer srv.Close()

	b := NewOpenAIBackend("sk-mock", WithBaseURL(srv.URL))
	_, err := b.Text(context.Background(), TextRequest{Prompt: "hi"})
	var oerr *openai.Error
	if !errors.As(err, &oerr) || oerr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want *openai.Error with 429", err)
	}
	if !IsRateLimited(err) {
		t.Error("429 from OpenAI should be rate limited")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (SDK retries disabled)", calls)
	}
}

func TestOpenAIBackend_Image(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["size"] != "1024x1536" {
			t.Errorf("size = %v, want portrait", req["size"])
		}
		if !strings.Contains(req["prompt"].(string), "cover") {
			t.Errorf("prompt = %v", req["prompt"])
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"created":1,"data":[{"b64_json":"SU1H"}]}`)
	}))
	defer srv.Close()

	b := NewOpenAIBackend("sk-mock", WithBaseURL(srv.URL))
	got, err := b.Image(context.Background(), ImageRequest{Prompt: "cover art", AspectRatio: AspectPortrait})
	if err != nil {
		t.Fatalf("Image: %v", err)
	}
	if got != "data:image/jpeg;base64,SU1H" {
		t.Errorf("Image = %q", got)
	}
}

func TestOpenAIBackend_SizeFor(t *testing.T) {
	tests := []struct {
		model  string
		aspect string
		want   string
	}{
		{"gpt-image-1", AspectWide, "1536x1024"},
		{"gpt-image-1", AspectSquare, "1024x1024"},
		{"dall-e-3", AspectPortrait, "1024x1792"},
		{"dall-e-3", AspectWide, "1792x1024"},
	}
	for _, tt := range tests {
		b := &OpenAIBackend{imageModel: tt.model}
		if got := b.sizeFor(tt.aspect); got != tt.want {
			t.Errorf("sizeFor(%s, %s) = %q, want %q", tt.model, tt.aspect, got, tt.want)
		}
	}
}
