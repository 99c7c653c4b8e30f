package types

type Provider string

const (
	ProviderAirhub     Provider = "airhub"
	ProviderESIMCard   Provider = "esimcard"
	ProviderTravelRoam Provider = "travelroam"
)

// AllProviders is the fixed enumeration order. Merge precedence, primary
// tie-breaks and data_sources ordering all depend on it, so it must not be
// reordered.
var AllProviders = []Provider{ProviderAirhub, ProviderESIMCard, ProviderTravelRoam}

func (p Provider) Valid() bool {
	switch p {
	case ProviderAirhub, ProviderESIMCard, ProviderTravelRoam:
		return true
	}
	return false
}

// DisplayName is the human-readable form used in data_sources.
func (p Provider) DisplayName() string {
	switch p {
	case ProviderAirhub:
		return "AirHub"
	case ProviderESIMCard:
		return "eSIMCard"
	case ProviderTravelRoam:
		return "TravelRoam"
	}
	return string(p)
}
