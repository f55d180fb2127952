// Package value defines the details payload carried by every audit log
// entry: a sealed tagged union over JSON-compatible shapes, plus the
// canonical encoding used as signing input.
//
// Parse and the UnmarshalJSON methods accept any JSON document. Numbers are
// decoded with UseNumber: integers become Int, everything else Float.
// Integral floats fold into Int, so a value written as 3.0 and read back as
// 3 still produces the same canonical bytes.
//
// MarshalCanonical follows RFC 8785 key ordering (UTF-16 code units) with
// NFC-normalized strings and no HTML escaping.
package value
