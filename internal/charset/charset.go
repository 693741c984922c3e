// Package charset maps character set names to the collation ids the
// wire protocol uses during the handshake.
package charset

import (
	"fmt"
	"strings"
)

// ids maps charset names to their default collation id, plus a few
// collation names clients commonly pass verbatim.
var ids = map[string]uint8{
	"big5":     1,
	"latin2":   9,
	"latin1":   8,
	"ascii":    11,
	"sjis":     13,
	"hebrew":   16,
	"tis620":   18,
	"euckr":    19,
	"gb2312":   24,
	"greek":    25,
	"cp1250":   26,
	"gbk":      28,
	"utf8":     33,
	"utf8mb3":  33,
	"cp1251":   51,
	"utf16":    54,
	"utf32":    60,
	"binary":   63,
	"cp1256":   57,
	"cp1257":   59,
	"utf8mb4":  45,
	"cp850":    4,
	"koi8r":    7,
	"koi8u":    22,
	"macroman": 39,
	"cp852":    40,

	"utf8_general_ci":    33,
	"utf8mb4_general_ci": 45,
	"utf8mb4_bin":        46,
	"utf8mb4_0900_ai_ci": 255,
	"latin1_swedish_ci":  8,
}

// Resolve returns the collation id for a charset or collation name.
func Resolve(name string) (uint8, error) {
	id, ok := ids[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown charset %q", name)
	}
	return id, nil
}
