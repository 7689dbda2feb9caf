package directory

// fallbackIDOffset keeps fallback external ids well clear of the remote id range.
const fallbackIDOffset = 900000

var fallbackRecords = []Record{
	{ExternalID: fallbackIDOffset + 1, Email: "george.bluth@fallback.example.org", FirstName: "George", LastName: "Bluth", AvatarURL: "https://reqres.in/img/faces/1-image.jpg"},
	{ExternalID: fallbackIDOffset + 2, Email: "janet.weaver@fallback.example.org", FirstName: "Janet", LastName: "Weaver", AvatarURL: "https://reqres.in/img/faces/2-image.jpg"},
	{ExternalID: fallbackIDOffset + 3, Email: "emma.wong@fallback.example.org", FirstName: "Emma", LastName: "Wong", AvatarURL: "https://reqres.in/img/faces/3-image.jpg"},
	{ExternalID: fallbackIDOffset + 4, Email: "eve.holt@fallback.example.org", FirstName: "Eve", LastName: "Holt", AvatarURL: "https://reqres.in/img/faces/4-image.jpg"},
	{ExternalID: fallbackIDOffset + 5, Email: "charles.morris@fallback.example.org", FirstName: "Charles", LastName: "Morris", AvatarURL: "https://reqres.in/img/faces/5-image.jpg"},
	{ExternalID: fallbackIDOffset + 6, Email: "tracey.ramos@fallback.example.org", FirstName: "Tracey", LastName: "Ramos", AvatarURL: "https://reqres.in/img/faces/6-image.jpg"},
	{ExternalID: fallbackIDOffset + 7, Email: "michael.lawson@fallback.example.org", FirstName: "Michael", LastName: "Lawson", AvatarURL: "https://reqres.in/img/faces/7-image.jpg"},
	{ExternalID: fallbackIDOffset + 8, Email: "lindsay.ferguson@fallback.example.org", FirstName: "Lindsay", LastName: "Ferguson", AvatarURL: "https://reqres.in/img/faces/8-image.jpg"},
	{ExternalID: fallbackIDOffset + 9, Email: "tobias.funke@fallback.example.org", FirstName: "Tobias", LastName: "Funke", AvatarURL: "https://reqres.in/img/faces/9-image.jpg"},
	{ExternalID: fallbackIDOffset + 10, Email: "byron.fields@fallback.example.org", FirstName: "Byron", LastName: "Fields", AvatarURL: "https://reqres.in/img/faces/10-image.jpg"},
	{ExternalID: fallbackIDOffset + 11, Email: "george.edwards@fallback.example.org", FirstName: "George", LastName: "Edwards", AvatarURL: "https://reqres.in/img/faces/11-image.jpg"},
	{ExternalID: fallbackIDOffset + 12, Email: "rachel.howell@fallback.example.org", FirstName: "Rachel", LastName: "Howell", AvatarURL: "https://reqres.in/img/faces/12-image.jpg"},
}

// StaticDataset serves the embedded substitute directory used when the remote is unreachable.
type StaticDataset struct {
	records []Record
}

// NewFallbackDataset returns the built-in fallback directory.
func NewFallbackDataset() *StaticDataset {
	return &StaticDataset{records: fallbackRecords}
}

// NewStaticDataset serves the provided records instead of the built-in set.
func NewStaticDataset(records []Record) *StaticDataset {
	return &StaticDataset{records: append([]Record(nil), records...)}
}

// Load returns a copy of the dataset so callers cannot mutate the shared set.
func (d *StaticDataset) Load() []Record {
	return append([]Record(nil), d.records...)
}
