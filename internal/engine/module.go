package engine

import (
	"bytes"
	"encoding/json"
)

// WrapModule wraps CommonJS source so that evaluating it in a browser stores
// its module.exports at registry[name] on the global object. The source sees
// local module and exports bindings and nothing leaks into global scope.
func WrapModule(registry, name string, source []byte) []byte {
	key, _ := json.Marshal(name)

	var b bytes.Buffer
	b.Grow(len(source) + 256)
	b.WriteString("(function (global) {\n")
	b.WriteString("var module = { exports: {} };\n")
	b.WriteString("var exports = module.exports;\n")
	b.WriteString("(function (module, exports) {\n")
	b.Write(source)
	if len(source) > 0 && source[len(source)-1] != '\n' {
		b.WriteByte('\n')
	}
	b.WriteString("})(module, exports);\n")
	b.WriteString("var registry = global." + registry + " || (global." + registry + " = {});\n")
	b.WriteString("registry[")
	b.Write(key)
	b.WriteString("] = module.exports;\n")
	b.WriteString("})(typeof globalThis !== \"undefined\" ? globalThis : this);\n")
	return b.Bytes()
}
