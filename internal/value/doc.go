// Package value provides the store-native value model shared by every store
// flavor and by the typed codecs in package binding.
//
// This package imports nothing internal. Stores persist Values, codecs map
// field types onto Values, and the cloud protocol carries Values on the wire.
//
// Key design constraints:
//   - Ints and Floats are distinct kinds and never collapse into each other
//   - No null kind: absence is expressed by a missing key
//   - The tagged wire format (Marshal/Unmarshal) is lossless for every kind
//   - Content hashes use the canonical form with NFC-normalized strings
package value
