package cloudaws

var (
	supportedRegions = map[string]bool{}
	regionSortOrder  []string
)

func init() {
	addRegions(
		"af-south-1",
		"ap-east-1",
		"ap-northeast-1",
		"ap-northeast-2",
		"ap-northeast-3",
		"ap-south-1",
		"ap-southeast-1",
		"ap-southeast-2",
		"ca-central-1",
		"eu-central-1",
		"eu-north-1",
		"eu-south-1",
		"eu-west-1",
		"eu-west-2",
		"eu-west-3",
		"me-south-1",
		"sa-east-1",
		"us-east-1",
		"us-east-2",
		"us-west-1",
		"us-west-2",
	)
}

// GetSupportedRegions returns a list of all regions notifications and release buckets can live in
func GetSupportedRegions() []string {
	return regionSortOrder
}

// IsSupportedRegion returns whether a specified region is supported
func IsSupportedRegion(region string) bool {
	return supportedRegions[region]
}

func addRegions(regions ...string) {
	for _, region := range regions {
		regionSortOrder = append(regionSortOrder, region)
		supportedRegions[region] = true
	}
}
