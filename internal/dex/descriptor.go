package dex

import "strings"

var primitiveNames = map[byte]string{
	'V': "void",
	'Z': "boolean",
	'B': "byte",
	'S': "short",
	'C': "char",
	'I': "int",
	'J': "long",
	'F': "float",
	'D': "double",
}

// JavaName converts a type descriptor ("Lcom/a/B;", "[I", "Z") to its
// source-level name ("com.a.B", "int[]", "boolean").
func JavaName(desc string) string {
	dims := 0
	for dims < len(desc) && desc[dims] == '[' {
		dims++
	}
	elem := desc[dims:]

	var name string
	switch {
	case len(elem) == 1 && primitiveNames[elem[0]] != "":
		name = primitiveNames[elem[0]]
	case len(elem) >= 2 && elem[0] == 'L' && elem[len(elem)-1] == ';':
		name = strings.ReplaceAll(elem[1:len(elem)-1], "/", ".")
	default:
		name = elem
	}
	return name + strings.Repeat("[]", dims)
}

// Descriptor converts a source-level name back to a type descriptor.
func Descriptor(name string) string {
	dims := 0
	for strings.HasSuffix(name, "[]") {
		name = strings.TrimSuffix(name, "[]")
		dims++
	}

	elem := ""
	for code, prim := range primitiveNames {
		if prim == name {
			elem = string(code)
			break
		}
	}
	if elem == "" {
		elem = "L" + strings.ReplaceAll(name, ".", "/") + ";"
	}
	return strings.Repeat("[", dims) + elem
}
