package lifecycle

import "fmt"

// SelectImage returns the most recently created image. Ties keep the first
// image listed.
func SelectImage(images []Image, filter ImageFilter) (Image, error) {
	if len(images) == 0 {
		return Image{}, fmt.Errorf("%w for os %q", ErrNoImage, filter.OS)
	}
	latest := images[0]
	for _, img := range images[1:] {
		if img.CreatedAt.After(latest.CreatedAt) {
			latest = img
		}
	}
	return latest, nil
}
