package entities

import "regexp"

// Entity types emitted by the extractor.
const (
	TypeAgency   = "AGENCY"
	TypePerson   = "PERSON"
	TypeMoney    = "MONEY"
	TypeDate     = "DATE"
	TypeBill     = "BILL"
	TypeCitation = "CITATION"
	TypeLocation = "LOCATION"
	TypeOrg      = "ORG"
)

// Relation types emitted by FindRelationships.
const (
	RelSponsoredBy = "sponsored_by"
	RelReferences  = "references"
	RelLocatedIn   = "located_in"
	RelMentions    = "mentions"
)

// pattern couples one regex with the entity type and base confidence it
// yields. Confidence reflects how rarely the pattern false-positives on
// government prose.
type pattern struct {
	entityType string
	confidence float64
	re         *regexp.Regexp
}

var patterns = []pattern{
	// Bill numbers: H.R. 1234, H. R. 1234, S. 567, H.J.Res. 12.
	{TypeBill, 0.98, regexp.MustCompile(`\b(?:H\.\s?R\.|S\.|H\.\s?J\.\s?Res\.|S\.\s?J\.\s?Res\.|H\.\s?Con\.\s?Res\.|S\.\s?Con\.\s?Res\.)\s?\d{1,5}\b`)},

	// Statute and regulation citations: 42 U.S.C. § 1983, 29 C.F.R. 1910.120.
	{TypeCitation, 0.97, regexp.MustCompile(`\b\d{1,3}\s(?:U\.S\.C\.|C\.F\.R\.|CFR|USC)\s(?:§{1,2}\s?)?\d+[\w.\-]*\b`)},

	// Money: $1,250,000 or $4.2 billion.
	{TypeMoney, 0.95, regexp.MustCompile(`\$\d{1,3}(?:,\d{3})*(?:\.\d+)?(?:\s(?:thousand|million|billion|trillion))?\b`)},

	// Dates: March 14, 2025 / 03/14/2025 / 2025-03-14.
	{TypeDate, 0.9, regexp.MustCompile(`\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s\d{1,2},\s\d{4}\b`)},
	{TypeDate, 0.85, regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`)},
	{TypeDate, 0.85, regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)},

	// People introduced with a title or honorific.
	{TypePerson, 0.85, regexp.MustCompile(`\b(?:Senator|Sen\.|Representative|Rep\.|Secretary|Director|Administrator|Commissioner|Chairman|Chairwoman|Chair|Dr\.|Mr\.|Ms\.|Mrs\.)\s[A-Z][a-z]+(?:\s[A-Z]\.)?(?:\s[A-Z][a-z]+)?\b`)},

	// Generic organizations: capitalized phrase ending in an institutional noun.
	{TypeOrg, 0.75, regexp.MustCompile(`\b(?:[A-Z][a-z]+\s){0,4}(?:Department|Agency|Commission|Committee|Subcommittee|Office|Bureau|Administration|Authority|Service|Corps)\b(?:\sof(?:\sthe)?\s(?:[A-Z][a-z]+\s?){1,4})?`)},
}

// agencyGazetteer maps well-known federal bodies (and their abbreviations)
// to a canonical surface form. Gazetteer hits outrank the generic ORG regex.
var agencyGazetteer = map[string]string{
	"government accountability office":           "Government Accountability Office",
	"gao":                                        "Government Accountability Office",
	"congressional budget office":                "Congressional Budget Office",
	"cbo":                                        "Congressional Budget Office",
	"congressional research service":             "Congressional Research Service",
	"crs":                                        "Congressional Research Service",
	"environmental protection agency":            "Environmental Protection Agency",
	"epa":                                        "Environmental Protection Agency",
	"department of defense":                      "Department of Defense",
	"dod":                                        "Department of Defense",
	"department of justice":                      "Department of Justice",
	"doj":                                        "Department of Justice",
	"department of energy":                       "Department of Energy",
	"department of education":                    "Department of Education",
	"department of transportation":               "Department of Transportation",
	"department of homeland security":            "Department of Homeland Security",
	"dhs":                                        "Department of Homeland Security",
	"department of health and human services":    "Department of Health and Human Services",
	"hhs":                                        "Department of Health and Human Services",
	"securities and exchange commission":         "Securities and Exchange Commission",
	"sec":                                        "Securities and Exchange Commission",
	"federal communications commission":          "Federal Communications Commission",
	"fcc":                                        "Federal Communications Commission",
	"federal trade commission":                   "Federal Trade Commission",
	"ftc":                                        "Federal Trade Commission",
	"internal revenue service":                   "Internal Revenue Service",
	"irs":                                        "Internal Revenue Service",
	"food and drug administration":               "Food and Drug Administration",
	"fda":                                        "Food and Drug Administration",
	"federal aviation administration":            "Federal Aviation Administration",
	"faa":                                        "Federal Aviation Administration",
	"national aeronautics and space administration": "National Aeronautics and Space Administration",
	"nasa":                                       "National Aeronautics and Space Administration",
	"office of management and budget":            "Office of Management and Budget",
	"omb":                                        "Office of Management and Budget",
	"general services administration":            "General Services Administration",
	"gsa":                                        "General Services Administration",
	"small business administration":              "Small Business Administration",
	"sba":                                        "Small Business Administration",
	"centers for disease control and prevention": "Centers for Disease Control and Prevention",
	"cdc":                                        "Centers for Disease Control and Prevention",
}

// locationGazetteer holds US states, territories, and the capital.
var locationGazetteer = map[string]string{
	"alabama": "Alabama", "alaska": "Alaska", "arizona": "Arizona",
	"arkansas": "Arkansas", "california": "California", "colorado": "Colorado",
	"connecticut": "Connecticut", "delaware": "Delaware", "florida": "Florida",
	"georgia": "Georgia", "hawaii": "Hawaii", "idaho": "Idaho",
	"illinois": "Illinois", "indiana": "Indiana", "iowa": "Iowa",
	"kansas": "Kansas", "kentucky": "Kentucky", "louisiana": "Louisiana",
	"maine": "Maine", "maryland": "Maryland", "massachusetts": "Massachusetts",
	"michigan": "Michigan", "minnesota": "Minnesota", "mississippi": "Mississippi",
	"missouri": "Missouri", "montana": "Montana", "nebraska": "Nebraska",
	"nevada": "Nevada", "new hampshire": "New Hampshire", "new jersey": "New Jersey",
	"new mexico": "New Mexico", "new york": "New York", "north carolina": "North Carolina",
	"north dakota": "North Dakota", "ohio": "Ohio", "oklahoma": "Oklahoma",
	"oregon": "Oregon", "pennsylvania": "Pennsylvania", "rhode island": "Rhode Island",
	"south carolina": "South Carolina", "south dakota": "South Dakota",
	"tennessee": "Tennessee", "texas": "Texas", "utah": "Utah",
	"vermont": "Vermont", "virginia": "Virginia", "washington": "Washington",
	"west virginia": "West Virginia", "wisconsin": "Wisconsin", "wyoming": "Wyoming",
	"district of columbia": "District of Columbia", "washington, d.c.": "District of Columbia",
	"puerto rico": "Puerto Rico", "guam": "Guam", "american samoa": "American Samoa",
}
