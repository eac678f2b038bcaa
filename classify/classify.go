// Package classify implements the media classifier (spec §4.4): mapping a
// submission hint to {image, video, unknown} and filtering profiles against
// the result.
package classify

import (
	"net/url"
	"path"
	"strings"

	"github.com/NVIDIA/mediaorch/task"
)

// Hint carries the three signals classify considers, in priority order
// (spec §4.4): an explicit MIME type, a declared filename and the source
// URL/path itself.
type Hint struct {
	MIMEType string
	Filename string
	Source   string
}

var mimePrefixType = map[string]task.MediaType{
	"image/": task.MediaImage,
	"video/": task.MediaVideo,
}

// extAllowList is the fixed extension allow-list (spec §4.4 step 2); it does
// not grow from runtime configuration, only from a future code change.
var extAllowList = map[string]task.MediaType{
	".jpg": task.MediaImage, ".jpeg": task.MediaImage, ".png": task.MediaImage,
	".gif": task.MediaImage, ".webp": task.MediaImage, ".bmp": task.MediaImage,
	".tiff": task.MediaImage, ".heic": task.MediaImage,
	".mp4": task.MediaVideo, ".mov": task.MediaVideo, ".avi": task.MediaVideo,
	".mkv": task.MediaVideo, ".webm": task.MediaVideo, ".m4v": task.MediaVideo,
	".flv": task.MediaVideo, ".wmv": task.MediaVideo,
}

// Classify implements classify(hint) -> image|video|unknown. defaultOnUnknown
// is media_classifier.default_on_unknown, applied only when none of the three
// signals resolve (spec §4.4: "If no signal matches, result is video").
func Classify(h Hint, defaultOnUnknown task.MediaType) task.MediaType {
	if mt, ok := fromMIME(h.MIMEType); ok {
		return mt
	}
	if mt, ok := fromExt(h.Filename); ok {
		return mt
	}
	if mt, ok := fromURLPath(h.Source); ok {
		return mt
	}
	if defaultOnUnknown == "" {
		return task.MediaVideo
	}
	return defaultOnUnknown
}

func fromMIME(mime string) (task.MediaType, bool) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if mime == "" {
		return "", false
	}
	for prefix, mt := range mimePrefixType {
		if strings.HasPrefix(mime, prefix) {
			return mt, true
		}
	}
	return "", false
}

func fromExt(filename string) (task.MediaType, bool) {
	if filename == "" {
		return "", false
	}
	mt, ok := extAllowList[strings.ToLower(path.Ext(filename))]
	return mt, ok
}

func fromURLPath(source string) (task.MediaType, bool) {
	if source == "" {
		return "", false
	}
	u, err := url.Parse(source)
	p := source
	if err == nil && u.Path != "" {
		p = u.Path
	}
	mt, ok := extAllowList[strings.ToLower(path.Ext(p))]
	return mt, ok
}

// FilterResult is the outcome of filtering submitted profiles against an
// effective media type (spec §4.4 "Profile filter").
type FilterResult struct {
	Effective []task.Profile
	Dropped   []string
}

// FilterProfiles keeps a profile iff its input_type is absent or equal to
// effectiveType, tracking dropped profile_ids for reporting.
func FilterProfiles(profiles []task.Profile, effectiveType task.MediaType) FilterResult {
	var res FilterResult
	for _, p := range profiles {
		if p.InputType == "" || p.InputType == effectiveType {
			res.Effective = append(res.Effective, p)
			continue
		}
		res.Dropped = append(res.Dropped, p.ID)
	}
	return res
}
