package engine

// ICEServer is one STUN or TURN entry handed to the engine's media layer.
type ICEServer struct {
	URL        string
	Username   string
	Credential string
}

// ICEConfig is the optional traversal configuration supplied by the host
// application.
type ICEConfig struct {
	STUNURL      string
	TURNURL      string
	TURNUsername string
	TURNPassword string
}

// Servers composes the ICE server list from the configured URLs: a STUN
// entry when a STUN URL is set, a TURN entry with credentials when a TURN
// URL is set, both when both are set, and an empty list otherwise. Safe to
// call on a nil config.
func (c *ICEConfig) Servers() []ICEServer {
	if c == nil {
		return nil
	}
	var servers []ICEServer
	if c.STUNURL != "" {
		servers = append(servers, ICEServer{URL: c.STUNURL})
	}
	if c.TURNURL != "" {
		servers = append(servers, ICEServer{
			URL:        c.TURNURL,
			Username:   c.TURNUsername,
			Credential: c.TURNPassword,
		})
	}
	return servers
}
