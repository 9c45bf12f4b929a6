package wiki

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRasterImage(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"File:Apple.png":      true,
		"File:Apple.PNG":      true,
		"File:Shot.jpg":       true,
		"File:Spin.GIF":       true,
		"File:Logo.svg":       false,
		"File:Photo.jpeg":     false,
		"File:apple.png.webp": false,
		"":                    false,
	}
	for title, want := range cases {
		assert.Equal(t, want, IsRasterImage(title), title)
	}
}

func TestRasterImagesKeepsOrder(t *testing.T) {
	t.Parallel()

	got := RasterImages([]string{"File:B.gif", "File:Logo.svg", "File:A.png"})
	assert.Equal(t, []string{"File:B.gif", "File:A.png"}, got)
	assert.NotNil(t, RasterImages(nil))
}
