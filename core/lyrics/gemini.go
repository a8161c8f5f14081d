package lyrics

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"BratGen/logger"

	"github.com/tidwall/gjson"
	"google.golang.org/genai"
)

// 内联音频的大小上限
const maxInlineAudioBytes = 18 << 20

const transcribePrompt = `Transcribe the sung or spoken words in this audio.
Return only a JSON array. Each element is one word:
{"text": "<word>", "start": <seconds>, "end": <seconds>, "confidence": <0..1>}.
Times are seconds from the start of the audio. Keep the original word order.`

// GeminiTranscriber 用 Gemini 多模态模型获得带时间戳的词
type GeminiTranscriber struct {
	client     *genai.Client
	model      string
	ffmpegPath string
}

// NewGeminiLoader 返回 Capability 使用的 Loader
func NewGeminiLoader(apiKey, model, ffmpegPath string) Loader {
	return func(ctx context.Context) (Transcriber, error) {
		if apiKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is not set")
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create genai client: %w", err)
		}
		return &GeminiTranscriber{client: client, model: model, ffmpegPath: ffmpegPath}, nil
	}
}

// Transcribe 先抽出单声道 mp3 再内联发送
func (g *GeminiTranscriber) Transcribe(ctx context.Context, audioPath string) ([]Word, error) {
	audio, err := g.extractAudio(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	if len(audio) > maxInlineAudioBytes {
		return nil, fmt.Errorf("audio too large for inline transcription: %d bytes", len(audio))
	}

	temperature := float32(0)
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(audio, "audio/mpeg"),
			genai.NewPartFromText(transcribePrompt),
		}, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini transcription failed: %w", err)
	}

	words, err := parseTranscriptionJSON(resp.Text())
	if err != nil {
		return nil, err
	}
	logger.Debug("Gemini 转录完成",
		logger.String("model", g.model),
		logger.Int("words", len(words)))
	return words, nil
}

func (g *GeminiTranscriber) extractAudio(ctx context.Context, input string) ([]byte, error) {
	args := []string{
		"-v", "error",
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-b:a", "64k",
		"-f", "mp3",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, g.ffmpegPath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg execution failed for %s: %w\nFFmpeg Error: %s", input, err, stderr.String())
	}
	return out.Bytes(), nil
}

// parseTranscriptionJSON 接受数组或 {"words": [...]} 两种形式
func parseTranscriptionJSON(text string) ([]Word, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if !gjson.Valid(text) {
		return nil, fmt.Errorf("transcription response is not valid json")
	}
	doc := gjson.Parse(text)
	if !doc.IsArray() {
		doc = doc.Get("words")
	}
	if !doc.IsArray() {
		return nil, fmt.Errorf("transcription response has no word list")
	}

	var words []Word
	doc.ForEach(func(_, item gjson.Result) bool {
		w := Word{
			Text:  item.Get("text").String(),
			Start: item.Get("start").Float(),
			End:   item.Get("end").Float(),
		}
		if w.Text == "" {
			return true
		}
		if c := item.Get("confidence"); c.Exists() {
			v := c.Float()
			w.Confidence = &v
		}
		words = append(words, w)
		return true
	})
	return words, nil
}
