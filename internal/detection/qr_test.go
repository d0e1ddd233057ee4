package detection

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanguard/internal/common"
	"scanguard/internal/normalize"
	"scanguard/internal/risk"
)

func qrPNG(t *testing.T, payload string) []byte {
	t.Helper()
	data, err := qrcode.Encode(payload, qrcode.Medium, 256)
	require.NoError(t, err)
	return data
}

func blankPNG(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func analyzeQR(t *testing.T, dec QRDecoder, data []byte) (*AnalysisResult, error) {
	t.Helper()
	a := NewQRAnalyzer(dec, NewURLAnalyzer(DefaultKeywords()))
	return a.Analyze(context.Background(), normalize.Input{Channel: common.ChannelQR, Image: data})
}

type stubDecoder struct {
	text  string
	found bool
}

func (s stubDecoder) Decode(image.Image) (string, bool, error) { return s.text, s.found, nil }

func TestQRDecodesURL(t *testing.T) {
	t.Parallel()

	res, err := analyzeQR(t, NewZXingDecoder(), qrPNG(t, "https://github.com/"))
	require.NoError(t, err)
	require.NotNil(t, res.Details.QR)
	assert.True(t, res.Details.QR.Detected)
	assert.True(t, res.Details.QR.URLFound)
	assert.Equal(t, "https://github.com/", res.Details.QR.ExtractedURL)
	assert.Equal(t, 5, res.RiskScore)
	assert.Equal(t, common.RiskSafe, res.RiskLevel)
	assert.Equal(t, common.ChannelQR, res.Channel)
	assert.Equal(t, "github.com", res.Domain())
}

func TestQRExtractsEmbeddedURL(t *testing.T) {
	t.Parallel()

	res, err := analyzeQR(t, stubDecoder{text: "Visit http://192.168.1.5/verify-account now", found: true}, blankPNG(t, 64))
	require.NoError(t, err)
	assert.Equal(t, "http://192.168.1.5/verify-account", res.Details.QR.ExtractedURL)
	assert.Equal(t, 100, res.RiskScore)
	assert.Equal(t, common.RiskDangerous, res.RiskLevel)
}

func TestQRWithoutURLIsSafe(t *testing.T) {
	t.Parallel()

	res, err := analyzeQR(t, NewZXingDecoder(), qrPNG(t, "WIFI:S:home;T:WPA;P:secret;;"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.RiskScore)
	assert.Equal(t, common.RiskSafe, res.RiskLevel)
	assert.True(t, res.Details.QR.Detected)
	assert.False(t, res.Details.QR.URLFound)
	assert.Equal(t, "QR code decoded but no URL found", res.Explanation)
	assert.Empty(t, res.Factors)
}

func TestQRNoCodeInImage(t *testing.T) {
	t.Parallel()

	res, err := analyzeQR(t, NewZXingDecoder(), blankPNG(t, 100))
	require.NoError(t, err)
	assert.False(t, res.Details.QR.Detected)
	assert.False(t, res.Details.QR.URLFound)
	assert.Equal(t, 0, res.RiskScore)
}

func TestQRInvalidImages(t *testing.T) {
	t.Parallel()

	_, err := analyzeQR(t, NewZXingDecoder(), []byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrInvalidImage)
	assert.ErrorIs(t, err, ErrInvalidContent)

	_, err = analyzeQR(t, NewZXingDecoder(), blankPNG(t, 20))
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = analyzeQR(t, nil, qrPNG(t, "https://github.com/"))
	assert.ErrorIs(t, err, ErrDecodeUnavailable)
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestExtractURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://a.example/x", ExtractURL("https://a.example/x"))
	assert.Equal(t, "http://b.example/path", ExtractURL("go to http://b.example/path"))
	assert.Empty(t, ExtractURL("BEGIN:VCARD"))
}

func TestRescoreKeepsNoURLOutcome(t *testing.T) {
	t.Parallel()

	res := noURLResult(&QRDetails{Message: "QR code decoded but no URL found"})
	assert.Same(t, res, Rescore(res, []risk.RiskFactor{risk.Negative("x", 50, "")}))
}
