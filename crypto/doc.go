// Package crypto implements voice packet encryption.
//
// Keys are issued by the voice server in the session description; there is
// no key exchange on the media path. Three xsalsa20_poly1305 variants are
// supported and negotiated during the handshake:
//
//	xsalsa20_poly1305         nonce = RTP header, zero padded to 24 bytes
//	xsalsa20_poly1305_suffix  nonce = 24 random bytes appended to the packet
//	xsalsa20_poly1305_lite    nonce = 4-byte counter appended to the packet
//
// Example:
//
//	mode, err := crypto.Negotiate(crypto.DefaultModes(), ready.Modes)
//	cipher, err := crypto.NewCipher(mode, key)
//	packet, err := cipher.Seal(nil, header, opusFrame)
package crypto
