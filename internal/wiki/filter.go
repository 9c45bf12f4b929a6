package wiki

import "strings"

var rasterExtensions = []string{".png", ".jpg", ".gif"}

// IsRasterImage reports whether a file title names a PNG, JPEG or GIF.
func IsRasterImage(title string) bool {
	lower := strings.ToLower(title)
	for _, ext := range rasterExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// RasterImages keeps the raster titles of images in their original order.
func RasterImages(images []string) []string {
	out := make([]string, 0, len(images))
	for _, title := range images {
		if IsRasterImage(title) {
			out = append(out, title)
		}
	}
	return out
}
