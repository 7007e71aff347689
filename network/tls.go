package network

import "crypto/tls"

// TLSConfig is an alias for tls.Config. When ListenerConfig.TLSConfig is
// set, Listener.Start listens through crypto/tls's tls.Listen, which does
// the handshake; this package has no certificate loading or verification
// code of its own.
type TLSConfig = tls.Config
