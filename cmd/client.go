package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"BratGen/config"
	"BratGen/core/render"
	"BratGen/model"
)

// serverURL 由 --server 指定, 为空时根据 HTTP_ADDR 推导
var serverURL string

// apiClient 访问正在运行的 BratGen 服务. 任务和分析记录只由服务进程写入
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Minute},
	}
}

// defaultServerURL ":8080" -> "http://127.0.0.1:8080"
func defaultServerURL(cfg *config.Config) string {
	addr := cfg.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

func currentClient() *apiClient {
	if serverURL != "" {
		return newAPIClient(serverURL)
	}
	return newAPIClient(defaultServerURL(cfg))
}

// apiError 服务返回的非 2xx 响应
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("无法连接 BratGen 服务 %s, 请先运行 bratgen server: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&msg)
		if msg.Message == "" {
			msg.Message = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Message: msg.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) GetUpload(ctx context.Context, id string) (*model.Upload, error) {
	var resp struct {
		Upload *model.Upload `json:"upload"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/uploads/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Upload, nil
}

func (c *apiClient) Analyze(ctx context.Context, uploadID string, target float64) (json.RawMessage, error) {
	var resp json.RawMessage
	body := map[string]any{"uploadId": uploadID, "targetDuration": target}
	if err := c.do(ctx, http.MethodPost, "/api/analyze/audio", body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *apiClient) Align(ctx context.Context, uploadID, lyrics string) (*model.LyricTranscript, error) {
	var resp struct {
		Alignment *model.LyricTranscript `json:"alignment"`
	}
	body := map[string]any{"uploadId": uploadID, "lyrics": lyrics}
	if err := c.do(ctx, http.MethodPost, "/api/lyrics/align", body, &resp); err != nil {
		return nil, err
	}
	return resp.Alignment, nil
}

// renderBody 与 POST /api/render 的请求体一致; nil 字段交给服务端取默认值
type renderBody struct {
	UploadID string              `json:"uploadId"`
	Segment  model.RenderSegment `json:"segment"`
	Options  renderBodyOptions   `json:"options"`
}

type renderBodyOptions struct {
	Resolution      string   `json:"resolution,omitempty"`
	Aspect          string   `json:"aspect,omitempty"`
	IncludeMusic    *bool    `json:"includeMusic,omitempty"`
	IncludeOriginal *bool    `json:"includeOriginal,omitempty"`
	MusicGainDb     float64  `json:"musicGainDb"`
	DuckingDb       *float64 `json:"duckingDb,omitempty"`
	FadeMs          *float64 `json:"fadeMs,omitempty"`
}

type jobEnvelope struct {
	Job *model.PublicRenderJob `json:"job"`
}

func (c *apiClient) SubmitRender(ctx context.Context, body renderBody) (*model.PublicRenderJob, error) {
	var resp jobEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/render", body, &resp); err != nil {
		return nil, err
	}
	return resp.Job, nil
}

func (c *apiClient) GetJob(ctx context.Context, id string) (*model.PublicRenderJob, error) {
	var resp jobEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/render/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Job, nil
}

func (c *apiClient) ListJobs(ctx context.Context) ([]*model.PublicRenderJob, *render.Health, error) {
	var resp struct {
		Jobs   []*model.PublicRenderJob `json:"jobs"`
		Health *render.Health           `json:"health"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/render", nil, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Jobs, resp.Health, nil
}

func (c *apiClient) RetryJob(ctx context.Context, id string) (*model.PublicRenderJob, error) {
	var resp jobEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/render/"+id+"/retry", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Job, nil
}

func (c *apiClient) CancelJob(ctx context.Context, id string) (*model.PublicRenderJob, error) {
	var resp jobEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/render/"+id+"/cancel", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Job, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
