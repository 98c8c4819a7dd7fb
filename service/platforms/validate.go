package platforms

import (
	"fmt"
	"strings"

	tables "github.com/crosspost-media-core/v2/dal/tables/v1"
)

type contentConstraints struct {
	MaxTextLength int
	RequiresMedia bool
	VideoOnly     bool
	ImageOnly     bool
	MaxImages     int
}

var constraintsByPlatform = map[tables.Platform]contentConstraints{
	tables.Platform_Twitter:   {MaxTextLength: 280, MaxImages: 4},
	tables.Platform_Instagram: {MaxTextLength: 2200, RequiresMedia: true, MaxImages: 10},
	tables.Platform_LinkedIn:  {MaxTextLength: 3000, MaxImages: 9},
	tables.Platform_Facebook:  {MaxTextLength: 63206, MaxImages: 10},
	tables.Platform_TikTok:    {MaxTextLength: 2200, RequiresMedia: true, VideoOnly: true, MaxImages: 0},
	tables.Platform_YouTube:   {MaxTextLength: 5000, RequiresMedia: true, VideoOnly: true, MaxImages: 0},
	tables.Platform_Pinterest: {MaxTextLength: 500, RequiresMedia: true, ImageOnly: true, MaxImages: 1},
}

var videoExtensions = []string{".mp4", ".mov", ".avi", ".webm", ".mkv", ".m4v"}

func isVideoURL(mediaUrl string) bool {
	lowered := strings.ToLower(mediaUrl)
	if idx := strings.IndexAny(lowered, "?#"); idx >= 0 {
		lowered = lowered[:idx]
	}
	for _, ext := range videoExtensions {
		if strings.HasSuffix(lowered, ext) {
			return true
		}
	}
	return false
}

// ValidateContent checks textual and media constraints before any
// network call is made. The returned error is always a PlatformError
// of kind ValidationFailed.
func ValidateContent(platform tables.Platform, item tables.ContentItem) error {
	constraints, ok := constraintsByPlatform[platform]
	if !ok {
		return &PlatformError{
			Platform: platform,
			Kind:     KIND_UNKNOWN_PLATFORM,
			Message:  "unsupported platform",
		}
	}
	if len([]rune(item.Body)) > constraints.MaxTextLength {
		return validationError(platform, fmt.Sprintf("text exceeds %d character limit", constraints.MaxTextLength))
	}

	videos := 0
	images := 0
	for _, mediaUrl := range item.MediaReferences {
		if isVideoURL(mediaUrl) {
			videos++
		} else {
			images++
		}
	}
	total := videos + images

	if constraints.RequiresMedia && total == 0 {
		return validationError(platform, "at least one media attachment is required")
	}
	if constraints.VideoOnly {
		if videos == 0 && constraints.RequiresMedia {
			return validationError(platform, "a video attachment is required")
		}
		if images > 0 {
			return validationError(platform, "only video attachments are supported")
		}
		if videos > 1 {
			return validationError(platform, "only a single video is supported")
		}
		return nil
	}
	if constraints.ImageOnly && videos > 0 {
		return validationError(platform, "only image attachments are supported")
	}
	if videos > 1 {
		return validationError(platform, "only a single video is supported")
	}
	if videos == 1 && images > 0 {
		return validationError(platform, "cannot mix video and image attachments")
	}
	if constraints.MaxImages > 0 && images > constraints.MaxImages {
		return validationError(platform, fmt.Sprintf("at most %d images are supported", constraints.MaxImages))
	}
	return nil
}
