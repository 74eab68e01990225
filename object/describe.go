package object

import (
	"fmt"
	"strings"
)

// Describe renders o as indented text for logs and debugging:
//
//	(dictionary)
//	    "name": (string) "Foo Bar"
//	    "tags": (array)
//	        0: (string) "red"
func Describe(o Object) string {
	var sb strings.Builder
	describe(&sb, o, 0)
	return sb.String()
}

func describe(sb *strings.Builder, o Object, level int) {
	if o == nil {
		sb.WriteString("<null value>\n")
		return
	}
	fmt.Fprintf(sb, "(%s)", o.Kind())
	switch v := o.(type) {
	case *Dictionary:
		sb.WriteByte('\n')
		v.ForEach(func(key string, child Object) bool {
			fmt.Fprintf(sb, "%*s%q: ", (level+1)*4, "", key)
			describe(sb, child, level+1)
			return true
		})
	case *Array:
		sb.WriteByte('\n')
		v.ForEach(func(index int, child Object) bool {
			fmt.Fprintf(sb, "%*s%d: ", (level+1)*4, "", index)
			describe(sb, child, level+1)
			return true
		})
	default:
		sb.WriteByte(' ')
		sb.WriteString(o.String())
		sb.WriteByte('\n')
	}
}
