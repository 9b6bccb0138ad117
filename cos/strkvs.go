package cos

// StrKVs is an ordered-enough string/string map used for header-like key
// value collections outside the wire-exact msg.Message header map
// (e.g. test fixtures, option bags).
type StrKVs map[string]string
