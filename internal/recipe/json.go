package recipe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dub-build/dub/internal/log"
	"github.com/dub-build/dub/internal/platform"
	"github.com/dub-build/dub/internal/version"
)

// The JSON surface is an object whose keys are recipe attributes or
// attributes with a platform-filter suffix ("dflags-linux-x86_64").
// Decoding walks the token stream so that platform-tagged entries keep
// their declaration order; stdlib map decoding would lose it.

type jsonParser struct {
	dec    *json.Decoder
	data   []byte
	file   string
	logger log.Logger
}

func parseJSON(data []byte, filename, parentName string, logger log.Logger) (Recipe, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	p := &jsonParser{dec: dec, data: data, file: filename, logger: logger}
	var r Recipe
	if err := p.parseRecipe(&r, parentName); err != nil {
		return Recipe{}, err
	}
	return r, nil
}

func (p *jsonParser) line() int {
	off := p.dec.InputOffset()
	if off > int64(len(p.data)) {
		off = int64(len(p.data))
	}
	return 1 + bytes.Count(p.data[:off], []byte{'\n'})
}

func (p *jsonParser) syntaxErr(msg string, err error) error {
	return &SyntaxError{File: p.file, Line: p.line(), Msg: msg, Err: err}
}

func (p *jsonParser) expectDelim(d rune) error {
	tok, err := p.dec.Token()
	if err != nil {
		return p.syntaxErr("unexpected end of input", err)
	}
	if delim, ok := tok.(json.Delim); !ok || rune(delim) != d {
		return p.syntaxErr(fmt.Sprintf("expected %q, got %v", d, tok), nil)
	}
	return nil
}

// eachKey iterates an object's keys in declaration order, calling fn with
// the decoder positioned at the value.
func (p *jsonParser) eachKey(fn func(key string) error) error {
	if err := p.expectDelim('{'); err != nil {
		return err
	}
	for p.dec.More() {
		tok, err := p.dec.Token()
		if err != nil {
			return p.syntaxErr("malformed object", err)
		}
		key, ok := tok.(string)
		if !ok {
			return p.syntaxErr(fmt.Sprintf("expected object key, got %v", tok), nil)
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return p.expectDelim('}')
}

func (p *jsonParser) skipValue() error {
	var raw json.RawMessage
	if err := p.dec.Decode(&raw); err != nil {
		return p.syntaxErr("malformed value", err)
	}
	return nil
}

func (p *jsonParser) decodeString(field string) (string, error) {
	var raw json.RawMessage
	if err := p.dec.Decode(&raw); err != nil {
		return "", p.syntaxErr("malformed value", err)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &InvalidValueError{File: p.file, Field: field, Msg: "expected a string"}
	}
	return s, nil
}

func (p *jsonParser) decodeStringArray(field string) ([]string, error) {
	var raw json.RawMessage
	if err := p.dec.Decode(&raw); err != nil {
		return nil, p.syntaxErr("malformed value", err)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, &InvalidValueError{File: p.file, Field: field, Msg: "expected an array of strings"}
	}
	return list, nil
}

func (p *jsonParser) parseRecipe(r *Recipe, parentName string) error {
	return p.eachKey(func(key string) error {
		switch key {
		case "name":
			s, err := p.decodeString(key)
			if err != nil {
				return err
			}
			r.Name = s
			return nil
		case "version":
			s, err := p.decodeString(key)
			if err != nil {
				return err
			}
			r.Version = s
			return nil
		case "description", "homepage", "copyright", "license":
			s, err := p.decodeString(key)
			if err != nil {
				return err
			}
			switch key {
			case "description":
				r.Description = s
			case "homepage":
				r.Homepage = s
			case "copyright":
				r.Copyright = s
			case "license":
				r.License = s
			}
			return nil
		case "authors":
			list, err := p.decodeStringArray(key)
			if err != nil {
				return err
			}
			r.Authors = list
			return nil
		case "configurations":
			return p.parseConfigurations(r)
		case "buildTypes":
			return p.parseBuildTypes(r)
		case "subPackages":
			return p.parseSubPackages(r)
		default:
			handled, err := p.parseSettingsKey(&r.BuildSettings, key)
			if err != nil {
				return err
			}
			if !handled {
				p.logger.Warn("ignoring unknown recipe attribute", "file", p.file, "attribute", key)
				return p.skipValue()
			}
			return nil
		}
	})
}

func (p *jsonParser) parseConfigurations(r *Recipe) error {
	if err := p.expectDelim('['); err != nil {
		return err
	}
	for p.dec.More() {
		var cfg Configuration
		err := p.eachKey(func(key string) error {
			switch key {
			case "name":
				s, err := p.decodeString(key)
				if err != nil {
					return err
				}
				cfg.Name = s
				return nil
			case "platforms":
				list, err := p.decodeStringArray(key)
				if err != nil {
					return err
				}
				cfg.Platforms = list
				return nil
			default:
				handled, err := p.parseSettingsKey(&cfg.BuildSettings, key)
				if err != nil {
					return err
				}
				if !handled {
					p.logger.Warn("ignoring unknown configuration attribute", "file", p.file, "attribute", key)
					return p.skipValue()
				}
				return nil
			}
		})
		if err != nil {
			return err
		}
		r.Configurations = append(r.Configurations, cfg)
	}
	return p.expectDelim(']')
}

func (p *jsonParser) parseBuildTypes(r *Recipe) error {
	return p.eachKey(func(name string) error {
		var t BuildSettingsTemplate
		err := p.eachKey(func(key string) error {
			handled, err := p.parseSettingsKey(&t, key)
			if err != nil {
				return err
			}
			if !handled {
				p.logger.Warn("ignoring unknown build type attribute", "file", p.file, "buildType", name, "attribute", key)
				return p.skipValue()
			}
			return nil
		})
		if err != nil {
			return err
		}
		if r.BuildTypes == nil {
			r.BuildTypes = make(map[string]BuildSettingsTemplate)
		}
		r.BuildTypes[name] = t
		return nil
	})
}

func (p *jsonParser) parseSubPackages(r *Recipe) error {
	if err := p.expectDelim('['); err != nil {
		return err
	}
	for p.dec.More() {
		var raw json.RawMessage
		if err := p.dec.Decode(&raw); err != nil {
			return p.syntaxErr("malformed subPackages entry", err)
		}
		if len(raw) > 0 && raw[0] == '"' {
			var path string
			if err := json.Unmarshal(raw, &path); err != nil {
				return &InvalidValueError{File: p.file, Field: "subPackages", Msg: "expected a path string"}
			}
			r.SubPackages = append(r.SubPackages, SubPackage{Path: path})
			continue
		}
		sub, err := parseJSON(raw, p.file, r.Name, p.logger)
		if err != nil {
			return err
		}
		r.SubPackages = append(r.SubPackages, SubPackage{Recipe: &sub})
	}
	return p.expectDelim(']')
}

// listField maps a settings attribute name to its template field.
func (t *BuildSettingsTemplate) listField(attr string) *PlatformStrings {
	switch attr {
	case "dflags":
		return &t.DFlags
	case "lflags":
		return &t.LFlags
	case "libs":
		return &t.Libs
	case "sourceFiles":
		return &t.SourceFiles
	case "sourcePaths":
		return &t.SourcePaths
	case "excludedSourceFiles":
		return &t.ExcludedSourceFiles
	case "importPaths":
		return &t.ImportPaths
	case "importFiles":
		return &t.ImportFiles
	case "stringImportPaths":
		return &t.StringImportPaths
	case "stringImportFiles":
		return &t.StringImportFiles
	case "versions":
		return &t.Versions
	case "debugVersions":
		return &t.DebugVersions
	case "preGenerateCommands":
		return &t.PreGenerateCommands
	case "postGenerateCommands":
		return &t.PostGenerateCommands
	case "preBuildCommands":
		return &t.PreBuildCommands
	case "postBuildCommands":
		return &t.PostBuildCommands
	}
	return nil
}

// listFieldNames is the canonical encode order of the list fields.
var listFieldNames = []string{
	"dflags", "lflags", "libs",
	"sourceFiles", "sourcePaths", "excludedSourceFiles",
	"importPaths", "importFiles",
	"stringImportPaths", "stringImportFiles",
	"versions", "debugVersions",
	"preGenerateCommands", "postGenerateCommands",
	"preBuildCommands", "postBuildCommands",
}

func (p *jsonParser) parseSettingsKey(t *BuildSettingsTemplate, key string) (bool, error) {
	attr, filter := platform.SplitFieldName(key)

	switch attr {
	case "targetType":
		s, err := p.decodeString(key)
		if err != nil {
			return false, err
		}
		tt, err := ParseTargetType(s)
		if err != nil {
			return false, &InvalidValueError{File: p.file, Field: key, Msg: err.Error()}
		}
		t.TargetType = tt
		return true, nil
	case "targetPath", "targetName", "workingDirectory", "mainSourceFile":
		s, err := p.decodeString(key)
		if err != nil {
			return false, err
		}
		switch attr {
		case "targetPath":
			t.TargetPath = s
		case "targetName":
			t.TargetName = s
		case "workingDirectory":
			t.WorkingDirectory = s
		case "mainSourceFile":
			t.MainSourceFile = s
		}
		return true, nil
	case "dependencies":
		return true, p.eachKey(func(name string) error {
			var raw json.RawMessage
			if err := p.dec.Decode(&raw); err != nil {
				return p.syntaxErr("malformed dependency", err)
			}
			var dep version.Dependency
			if err := json.Unmarshal(raw, &dep); err != nil {
				return &InvalidValueError{File: p.file, Field: "dependencies." + name, Msg: err.Error()}
			}
			t.AddDependency(name, dep)
			return nil
		})
	case "subConfigurations":
		return true, p.eachKey(func(name string) error {
			cfg, err := p.decodeString("subConfigurations." + name)
			if err != nil {
				return err
			}
			t.SetSubConfiguration(name, cfg)
			return nil
		})
	case "buildRequirements":
		list, err := p.decodeStringArray(key)
		if err != nil {
			return false, err
		}
		var bits BuildRequirements
		for _, name := range list {
			b, err := ParseBuildRequirement(name)
			if err != nil {
				return false, &InvalidValueError{File: p.file, Field: key, Msg: err.Error()}
			}
			bits |= b
		}
		t.BuildRequirements.Add(filter, uint32(bits))
		return true, nil
	case "buildOptions":
		list, err := p.decodeStringArray(key)
		if err != nil {
			return false, err
		}
		var bits BuildOptions
		for _, name := range list {
			b, err := ParseBuildOption(name)
			if err != nil {
				return false, &InvalidValueError{File: p.file, Field: key, Msg: err.Error()}
			}
			bits |= b
		}
		t.BuildOptions.Add(filter, uint32(bits))
		return true, nil
	}

	if f := t.listField(attr); f != nil {
		list, err := p.decodeStringArray(key)
		if err != nil {
			return false, err
		}
		f.Add(filter, list...)
		return true, nil
	}
	return false, nil
}

// --- encoding ---

type kv struct {
	key string
	val []byte
}

func renderObject(kvs []kv, indent string) []byte {
	if len(kvs) == 0 {
		return []byte("{}")
	}
	var b bytes.Buffer
	b.WriteString("{\n")
	inner := indent + "\t"
	for i, f := range kvs {
		b.WriteString(inner)
		keyJSON, _ := json.Marshal(f.key)
		b.Write(keyJSON)
		b.WriteString(": ")
		b.Write(f.val)
		if i < len(kvs)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString(indent)
	b.WriteByte('}')
	return b.Bytes()
}

func marshalValue(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

func encodeJSON(r Recipe) ([]byte, error) {
	kvs, err := recipeKVs(r, "")
	if err != nil {
		return nil, err
	}
	out := renderObject(kvs, "")
	return append(out, '\n'), nil
}

func recipeKVs(r Recipe, indent string) ([]kv, error) {
	var kvs []kv
	add := func(key string, val []byte) { kvs = append(kvs, kv{key, val}) }

	if r.Name != "" {
		add("name", marshalValue(r.Name))
	}
	if r.Version != "" {
		add("version", marshalValue(r.Version))
	}
	if r.Description != "" {
		add("description", marshalValue(r.Description))
	}
	if r.Homepage != "" {
		add("homepage", marshalValue(r.Homepage))
	}
	if len(r.Authors) > 0 {
		add("authors", marshalValue(r.Authors))
	}
	if r.Copyright != "" {
		add("copyright", marshalValue(r.Copyright))
	}
	if r.License != "" {
		add("license", marshalValue(r.License))
	}

	kvs = append(kvs, settingsKVs(r.BuildSettings)...)

	if len(r.Configurations) > 0 {
		var items [][]byte
		for _, c := range r.Configurations {
			ckvs := []kv{{"name", marshalValue(c.Name)}}
			if len(c.Platforms) > 0 {
				ckvs = append(ckvs, kv{"platforms", marshalValue(c.Platforms)})
			}
			ckvs = append(ckvs, settingsKVs(c.BuildSettings)...)
			items = append(items, renderObject(ckvs, indent+"\t"))
		}
		add("configurations", renderArray(items, indent+"\t"))
	}

	if len(r.BuildTypes) > 0 {
		names := make([]string, 0, len(r.BuildTypes))
		for name := range r.BuildTypes {
			names = append(names, name)
		}
		sort.Strings(names)
		var btkvs []kv
		for _, name := range names {
			btkvs = append(btkvs, kv{name, renderObject(settingsKVs(r.BuildTypes[name]), indent+"\t")})
		}
		add("buildTypes", renderObject(btkvs, indent+"\t"))
	}

	if len(r.SubPackages) > 0 {
		var items [][]byte
		for _, sp := range r.SubPackages {
			if sp.Recipe != nil {
				skvs, err := recipeKVs(*sp.Recipe, indent+"\t")
				if err != nil {
					return nil, err
				}
				items = append(items, renderObject(skvs, indent+"\t"))
			} else {
				items = append(items, marshalValue(sp.Path))
			}
		}
		add("subPackages", renderArray(items, indent+"\t"))
	}
	return kvs, nil
}

func renderArray(items [][]byte, indent string) []byte {
	if len(items) == 0 {
		return []byte("[]")
	}
	var b bytes.Buffer
	b.WriteString("[\n")
	for i, it := range items {
		b.WriteString(indent)
		b.Write(it)
		if i < len(items)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	if len(indent) > 0 {
		b.WriteString(indent[:len(indent)-1])
	}
	b.WriteByte(']')
	return b.Bytes()
}

func settingsKVs(t BuildSettingsTemplate) []kv {
	var kvs []kv
	add := func(key string, val []byte) { kvs = append(kvs, kv{key, val}) }

	if t.TargetType != TargetUnspecified {
		add("targetType", marshalValue(t.TargetType.String()))
	}
	if t.TargetPath != "" {
		add("targetPath", marshalValue(t.TargetPath))
	}
	if t.TargetName != "" {
		add("targetName", marshalValue(t.TargetName))
	}
	if t.WorkingDirectory != "" {
		add("workingDirectory", marshalValue(t.WorkingDirectory))
	}
	if t.MainSourceFile != "" {
		add("mainSourceFile", marshalValue(t.MainSourceFile))
	}

	if len(t.Dependencies) > 0 {
		names := make([]string, 0, len(t.Dependencies))
		for name := range t.Dependencies {
			names = append(names, name)
		}
		sort.Strings(names)
		var dkvs []kv
		for _, name := range names {
			raw, _ := json.Marshal(t.Dependencies[name])
			dkvs = append(dkvs, kv{name, raw})
		}
		add("dependencies", renderObject(dkvs, "\t"))
	}

	if len(t.SubConfigurations) > 0 {
		names := make([]string, 0, len(t.SubConfigurations))
		for name := range t.SubConfigurations {
			names = append(names, name)
		}
		sort.Strings(names)
		var skvs []kv
		for _, name := range names {
			skvs = append(skvs, kv{name, marshalValue(t.SubConfigurations[name])})
		}
		add("subConfigurations", renderObject(skvs, "\t"))
	}

	tmp := t
	for _, attr := range listFieldNames {
		for _, e := range tmp.listField(attr).Entries {
			key := attr
			if e.Filter != "" {
				key = attr + "-" + e.Filter
			}
			add(key, marshalValue(e.Values))
		}
	}

	for _, e := range t.BuildRequirements.Entries {
		key := "buildRequirements"
		if e.Filter != "" {
			key += "-" + e.Filter
		}
		add(key, marshalValue(BuildRequirements(e.Bits).Names()))
	}
	for _, e := range t.BuildOptions.Entries {
		key := "buildOptions"
		if e.Filter != "" {
			key += "-" + e.Filter
		}
		add(key, marshalValue(BuildOptions(e.Bits).Names()))
	}
	return kvs
}
