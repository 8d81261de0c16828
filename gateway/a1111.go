package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sat8bit/nexus/character"
)

// A1111 は Stable Diffusion WebUI の API を使うローカル画像バックエンドです。
// 参照画像があれば img2img、なければ txt2img を呼びます。
type A1111 struct {
	baseURL string
	http    *http.Client
	steps   int
}

func NewA1111(baseURL string) *A1111 {
	return &A1111{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
		steps:   28,
	}
}

type a1111Request struct {
	Prompt            string   `json:"prompt"`
	NegativePrompt    string   `json:"negative_prompt,omitempty"`
	InitImages        []string `json:"init_images,omitempty"`
	DenoisingStrength float64  `json:"denoising_strength,omitempty"`
	Steps             int      `json:"steps"`
	Width             int      `json:"width"`
	Height            int      `json:"height"`
}

type a1111Response struct {
	Images []string `json:"images"`
}

func (a *A1111) SynthesizeImage(ctx context.Context, refs []character.ImageAsset, instructions string, aspect AspectRatio) (character.ImageAsset, error) {
	w, h := dimensions(aspect)
	req := a1111Request{
		Prompt:         instructions,
		NegativePrompt: "lowres, blurry, watermark, text",
		Steps:          a.steps,
		Width:          w,
		Height:         h,
	}
	path := "/sdapi/v1/txt2img"
	for _, r := range refs {
		if r.Empty() {
			continue
		}
		req.InitImages = append(req.InitImages, base64.StdEncoding.EncodeToString(r.Data))
	}
	if len(req.InitImages) > 0 {
		path = "/sdapi/v1/img2img"
		req.DenoisingStrength = 0.55
	}

	body, err := json.Marshal(req)
	if err != nil {
		return character.ImageAsset{}, fmt.Errorf("gateway.A1111.SynthesizeImage: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return character.ImageAsset{}, fmt.Errorf("gateway.A1111.SynthesizeImage: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return character.ImageAsset{}, fmt.Errorf("gateway.A1111.SynthesizeImage: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return character.ImageAsset{}, fmt.Errorf("gateway.A1111.SynthesizeImage: status %d", resp.StatusCode)
	}

	var out a1111Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return character.ImageAsset{}, fmt.Errorf("gateway.A1111.SynthesizeImage: decode: %w", err)
	}
	if len(out.Images) == 0 {
		return character.ImageAsset{}, errors.New("gateway.A1111.SynthesizeImage: no images")
	}
	data, err := base64.StdEncoding.DecodeString(out.Images[0])
	if err != nil {
		return character.ImageAsset{}, fmt.Errorf("gateway.A1111.SynthesizeImage: decode image: %w", err)
	}
	return character.ImageAsset{Data: data, MIMEType: "image/png"}, nil
}

func dimensions(aspect AspectRatio) (int, int) {
	switch aspect {
	case AspectSquare:
		return 768, 768
	case AspectLandscape:
		return 1024, 576
	default:
		return 768, 1024
	}
}

var _ ImageBackend = (*A1111)(nil)
