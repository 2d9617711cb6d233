package sources

const (
	PCHExchangesURL  = "https://www.pch.net/ixp/data/ixp_exchange.csv"
	PCHSubnetsURL    = "https://www.pch.net/ixp/data/ixp_subnets.csv"
	PCHMembershipURL = "https://www.pch.net/ixp/data/ixp_membership.csv"

	PeeringDBURL = "https://www.peeringdb.com/api/"

	Pfx2ASBaseURL = "https://publicdata.caida.org/datasets/routing/routeviews-prefix2as/"
	Pfx2ASLogURL  = Pfx2ASBaseURL + "pfx2as-creation.log"

	AtlasStreamURL  = "wss://atlas-stream.ripe.net/stream/?client=github.com/sudorandom/ixpdetect"
	AtlasResultsURL = "https://atlas.ripe.net/api/v2/measurements/%d/results/?format=json"
)
