package aleo

// Network is the compile-time identity of an Aleo network. Client carries it
// as a type parameter only; the client never calls these methods itself.
type Network interface {
	// ID is the numeric network id found in block metadata.
	ID() uint16
	// Name is the path segment the Beacon API uses for the network.
	Name() string
}

// Testnet3 is Aleo Testnet 3.
type Testnet3 struct{}

func (Testnet3) ID() uint16   { return 3 }
func (Testnet3) Name() string { return "testnet3" }

const (
	// Testnet3BaseURL is the public Beacon API for Testnet 3.
	Testnet3BaseURL = "https://vm.aleo.org/api"
	// Testnet3NetworkID is the chain identifier used by NewTestnet3 and NewLocalTestnet3.
	Testnet3NetworkID = "testnet3"
)

// NetworkInfo describes a known deployment.
type NetworkInfo struct {
	ID             uint16
	Name           string
	DefaultBaseURL string
}

var networks = []NetworkInfo{
	{ID: Testnet3{}.ID(), Name: Testnet3{}.Name(), DefaultBaseURL: Testnet3BaseURL},
}

// NetworkByName returns a known network by name.
func NetworkByName(name string) (NetworkInfo, bool) {
	for _, n := range networks {
		if n.Name == name {
			return n, true
		}
	}
	return NetworkInfo{}, false
}

// NetworkByID returns a known network by its numeric id.
func NetworkByID(id uint16) (NetworkInfo, bool) {
	for _, n := range networks {
		if n.ID == id {
			return n, true
		}
	}
	return NetworkInfo{}, false
}

// InfoOf returns the table entry for the network type N.
func InfoOf[N Network]() NetworkInfo {
	var n N
	if info, ok := NetworkByID(n.ID()); ok {
		return info
	}
	return NetworkInfo{ID: n.ID(), Name: n.Name()}
}
