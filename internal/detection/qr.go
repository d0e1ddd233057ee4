package detection

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"regexp"
	"strings"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"scanguard/internal/common"
	"scanguard/internal/normalize"
	"scanguard/internal/risk"
)

const (
	minQRDimension = 50
	maxQRDimension = 4096
)

var (
	qrURLRe = regexp.MustCompile(`https?://(?:[a-zA-Z]|[0-9]|[$-_@.&+]|[!*\(\),]|(?:%[0-9a-fA-F][0-9a-fA-F]))+`)

	supportedImageFormats = map[string]bool{
		"png": true, "jpeg": true, "gif": true, "bmp": true, "webp": true,
	}
)

// QRDecoder extracts the text of the first QR code found in img. found is
// false when the image holds no readable code.
type QRDecoder interface {
	Decode(img image.Image) (text string, found bool, err error)
}

// ZXingDecoder decodes QR codes with gozxing.
type ZXingDecoder struct {
	hints map[gozxing.DecodeHintType]interface{}
}

func NewZXingDecoder() *ZXingDecoder {
	return &ZXingDecoder{hints: map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}}
}

func (z *ZXingDecoder) Decode(img image.Image) (string, bool, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	res, err := qrcode.NewQRCodeReader().Decode(bmp, z.hints)
	if err != nil {
		// gozxing reports a missing, damaged or unreadable code as an error.
		return "", false, nil
	}
	return res.GetText(), true, nil
}

// QRDetails is the qr channel sub-report.
type QRDetails struct {
	Format       string      `json:"format"`
	Width        int         `json:"width"`
	Height       int         `json:"height"`
	Detected     bool        `json:"qr_detected"`
	Payload      string      `json:"qr_data,omitempty"`
	URLFound     bool        `json:"url_found"`
	ExtractedURL string      `json:"extracted_url,omitempty"`
	Message      string      `json:"message,omitempty"`
	URLAnalysis  *URLDetails `json:"url_analysis,omitempty"`
}

// QRAnalyzer decodes an image and hands the embedded URL to the URL
// analyzer.
type QRAnalyzer struct {
	decoder QRDecoder
	urls    *URLAnalyzer
}

func NewQRAnalyzer(dec QRDecoder, urls *URLAnalyzer) *QRAnalyzer {
	return &QRAnalyzer{decoder: dec, urls: urls}
}

func (a *QRAnalyzer) Channel() common.Channel { return common.ChannelQR }

func (a *QRAnalyzer) Analyze(_ context.Context, in normalize.Input) (*AnalysisResult, error) {
	if a.decoder == nil {
		return nil, ErrDecodeUnavailable
	}
	if len(in.Image) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(in.Image))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if !supportedImageFormats[format] {
		return nil, fmt.Errorf("%w: unsupported format %s", ErrInvalidImage, format)
	}
	if cfg.Width > maxQRDimension || cfg.Height > maxQRDimension {
		return nil, fmt.Errorf("%w: dimensions %dx%d exceed %d", ErrInvalidImage, cfg.Width, cfg.Height, maxQRDimension)
	}
	if cfg.Width < minQRDimension || cfg.Height < minQRDimension {
		return nil, fmt.Errorf("%w: image too small to hold a readable code", ErrInvalidImage)
	}

	img, _, err := image.Decode(bytes.NewReader(in.Image))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	d := &QRDetails{Format: format, Width: cfg.Width, Height: cfg.Height}
	text, found, err := a.decoder.Decode(img)
	if err != nil {
		return nil, err
	}
	if !found {
		d.Message = "No QR code detected in image"
		return noURLResult(d), nil
	}
	d.Detected = true
	d.Payload = text

	target := ExtractURL(text)
	if target == "" {
		d.Message = "QR code decoded but no URL found"
		return noURLResult(d), nil
	}
	d.URLFound = true
	d.ExtractedURL = target

	urlDetails, factors, err := a.urls.inspect(target)
	if err != nil {
		return nil, fmt.Errorf("%w: extracted url is invalid", ErrInvalidContent)
	}
	d.URLAnalysis = urlDetails

	scanned := in
	scanned.Content = target
	return Build(scanned, factors, Details{QR: d}), nil
}

// ExtractURL returns the payload itself when it is a URL, otherwise the
// first URL inside it, otherwise "".
func ExtractURL(payload string) string {
	if strings.HasPrefix(payload, "http://") || strings.HasPrefix(payload, "https://") {
		return payload
	}
	return qrURLRe.FindString(payload)
}

// noURLResult is the terminal safe outcome for an image without an
// embedded URL. It is not run through the scorer.
func noURLResult(d *QRDetails) *AnalysisResult {
	r := &AnalysisResult{
		Channel:           common.ChannelQR,
		NormalizedContent: d.Payload,
		RiskScore:         0,
		RiskLevel:         common.RiskSafe,
		Factors:           []risk.RiskFactor{},
		Explanation:       d.Message,
		Recommendations:   risk.Recommendations(common.RiskSafe, nil),
		ConfidenceLevel:   risk.ConfidenceLow,
		Details:           Details{QR: d},
		AnalyzedAt:        time.Now().UTC(),
	}
	return r
}
