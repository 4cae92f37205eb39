package engine

// qualityRank is the fixed total ordering of quality names, ascending.
// The names follow the quality profile naming of Servarr-style media
// managers. An item quality or threshold outside this table compares as
// unknown and a max_quality condition over it does not match.
var qualityRank = map[string]int{
	"SDTV":         0,
	"DVD":          1,
	"WEBDL-480p":   2,
	"HDTV-720p":    3,
	"WEBDL-720p":   4,
	"Bluray-720p":  5,
	"HDTV-1080p":   6,
	"WEBDL-1080p":  7,
	"Bluray-1080p": 8,
	"Remux-1080p":  9,
	"HDTV-2160p":   10,
	"WEBDL-2160p":  11,
	"Bluray-2160p": 12,
	"Remux-2160p":  13,
}

// qualityOrder lists the quality names in ascending rank, for error
// messages and authoring surfaces.
var qualityOrder = []string{
	"SDTV", "DVD", "WEBDL-480p",
	"HDTV-720p", "WEBDL-720p", "Bluray-720p",
	"HDTV-1080p", "WEBDL-1080p", "Bluray-1080p", "Remux-1080p",
	"HDTV-2160p", "WEBDL-2160p", "Bluray-2160p", "Remux-2160p",
}

// KnownQuality reports whether the name appears in the ranking table.
func KnownQuality(name string) bool {
	_, ok := qualityRank[name]
	return ok
}

// QualityNames returns the quality names in ascending rank order.
// The returned slice is a copy.
func QualityNames() []string {
	out := make([]string, len(qualityOrder))
	copy(out, qualityOrder)
	return out
}

// qualityAtMost compares an item's quality against a threshold name.
// Returns false when either side is unknown.
func qualityAtMost(itemQuality, threshold string) bool {
	itemRank, ok := qualityRank[itemQuality]
	if !ok {
		return false
	}
	maxRank, ok := qualityRank[threshold]
	if !ok {
		return false
	}
	return itemRank <= maxRank
}
