package recipe

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/dub-build/dub/internal/log"
	"github.com/dub-build/dub/internal/version"
)

// The SDL surface is block structured: top-level tags set scalar fields,
// repeated tags accumulate into arrays, attribute-style platform filters
// scope a tag to matching targets, and configuration/buildType blocks
// open nested scopes.

type sdlValue struct {
	kind sdlTokenKind // tkString, tkNumber or tkBool
	text string
}

type sdlAttr struct {
	name  string
	value sdlValue
}

type sdlTag struct {
	name     string
	values   []sdlValue
	attrs    []sdlAttr
	children []sdlTag
	hasBlock bool
	line     int
}

type sdlParser struct {
	lex    *sdlLexer
	file   string
	tok    sdlToken
	logger log.Logger
}

func parseSDL(data []byte, filename, parentName string, logger log.Logger) (Recipe, error) {
	p := &sdlParser{lex: newSDLLexer(data, filename), file: filename, logger: logger}
	if err := p.advance(); err != nil {
		return Recipe{}, err
	}
	tags, err := p.parseTags(tkEOF)
	if err != nil {
		return Recipe{}, err
	}
	var r Recipe
	if err := p.buildRecipe(&r, tags, parentName, true); err != nil {
		return Recipe{}, err
	}
	return r, nil
}

func (p *sdlParser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *sdlParser) errf(line int, format string, args ...any) error {
	return &SyntaxError{File: p.file, Line: line, Msg: fmt.Sprintf(format, args...)}
}

// parseTags consumes tags until the given terminator (tkEOF or tkRBrace).
func (p *sdlParser) parseTags(until sdlTokenKind) ([]sdlTag, error) {
	var tags []sdlTag
	for {
		switch p.tok.kind {
		case until:
			return tags, nil
		case tkNewline:
			if err := p.advance(); err != nil {
				return nil, err
			}
		case tkIdent:
			tag, err := p.parseTag()
			if err != nil {
				return nil, err
			}
			tags = append(tags, tag)
		case tkEOF:
			return nil, p.errf(p.tok.line, "unexpected end of input, missing '}'")
		default:
			return nil, p.errf(p.tok.line, "expected tag name")
		}
	}
}

func (p *sdlParser) parseTag() (sdlTag, error) {
	tag := sdlTag{name: p.tok.text, line: p.tok.line}
	if err := p.advance(); err != nil {
		return sdlTag{}, err
	}
	for {
		switch p.tok.kind {
		case tkString, tkNumber, tkBool:
			val := sdlValue{kind: p.tok.kind, text: p.tok.text}
			if err := p.advance(); err != nil {
				return sdlTag{}, err
			}
			tag.values = append(tag.values, val)
		case tkIdent:
			// attribute: name=value
			name := p.tok.text
			line := p.tok.line
			if err := p.advance(); err != nil {
				return sdlTag{}, err
			}
			if p.tok.kind != tkEq {
				return sdlTag{}, p.errf(line, "expected '=' after attribute name %q", name)
			}
			if err := p.advance(); err != nil {
				return sdlTag{}, err
			}
			if p.tok.kind != tkString && p.tok.kind != tkNumber && p.tok.kind != tkBool {
				return sdlTag{}, p.errf(p.tok.line, "expected value for attribute %q", name)
			}
			tag.attrs = append(tag.attrs, sdlAttr{name: name, value: sdlValue{kind: p.tok.kind, text: p.tok.text}})
			if err := p.advance(); err != nil {
				return sdlTag{}, err
			}
		case tkLBrace:
			if err := p.advance(); err != nil {
				return sdlTag{}, err
			}
			children, err := p.parseTags(tkRBrace)
			if err != nil {
				return sdlTag{}, err
			}
			if err := p.advance(); err != nil { // consume '}'
				return sdlTag{}, err
			}
			tag.children = children
			tag.hasBlock = true
			return tag, nil
		case tkNewline, tkEOF, tkRBrace:
			if p.tok.kind == tkNewline {
				if err := p.advance(); err != nil {
					return sdlTag{}, err
				}
			}
			return tag, nil
		default:
			return sdlTag{}, p.errf(p.tok.line, "unexpected token in tag %q", tag.name)
		}
	}
}

func (t sdlTag) attr(name string) (sdlValue, bool) {
	for _, a := range t.attrs {
		if a.name == name {
			return a.value, true
		}
	}
	return sdlValue{}, false
}

func (p *sdlParser) stringValue(tag sdlTag) (string, error) {
	if len(tag.values) != 1 || tag.values[0].kind != tkString {
		return "", &InvalidValueError{File: p.file, Field: tag.name, Msg: "expected a single string value"}
	}
	return tag.values[0].text, nil
}

func (p *sdlParser) stringValues(tag sdlTag) ([]string, error) {
	out := make([]string, 0, len(tag.values))
	for _, v := range tag.values {
		if v.kind != tkString {
			return nil, &InvalidValueError{File: p.file, Field: tag.name, Msg: "expected string values"}
		}
		out = append(out, v.text)
	}
	return out, nil
}

func (p *sdlParser) buildRecipe(r *Recipe, tags []sdlTag, parentName string, topLevel bool) error {
	for _, tag := range tags {
		switch tag.name {
		case "name":
			s, err := p.stringValue(tag)
			if err != nil {
				return err
			}
			r.Name = s
		case "version":
			s, err := p.stringValue(tag)
			if err != nil {
				return err
			}
			r.Version = s
		case "description", "homepage", "copyright", "license":
			s, err := p.stringValue(tag)
			if err != nil {
				return err
			}
			switch tag.name {
			case "description":
				r.Description = s
			case "homepage":
				r.Homepage = s
			case "copyright":
				r.Copyright = s
			case "license":
				r.License = s
			}
		case "authors":
			list, err := p.stringValues(tag)
			if err != nil {
				return err
			}
			r.Authors = append(r.Authors, list...)
		case "configuration":
			if len(tag.values) != 1 || tag.values[0].kind != tkString {
				return p.errf(tag.line, "configuration requires a name")
			}
			cfg := Configuration{Name: tag.values[0].text}
			for _, child := range tag.children {
				if child.name == "platforms" {
					list, err := p.stringValues(child)
					if err != nil {
						return err
					}
					cfg.Platforms = append(cfg.Platforms, list...)
					continue
				}
				handled, err := p.buildSettingsTag(&cfg.BuildSettings, child)
				if err != nil {
					return err
				}
				if !handled {
					p.logger.Warn("ignoring unknown configuration attribute", "file", p.file, "attribute", child.name)
				}
			}
			r.Configurations = append(r.Configurations, cfg)
		case "buildType":
			if len(tag.values) != 1 || tag.values[0].kind != tkString {
				return p.errf(tag.line, "buildType requires a name")
			}
			var t BuildSettingsTemplate
			for _, child := range tag.children {
				handled, err := p.buildSettingsTag(&t, child)
				if err != nil {
					return err
				}
				if !handled {
					p.logger.Warn("ignoring unknown build type attribute", "file", p.file, "attribute", child.name)
				}
			}
			if r.BuildTypes == nil {
				r.BuildTypes = make(map[string]BuildSettingsTemplate)
			}
			r.BuildTypes[tag.values[0].text] = t
		case "subPackage":
			if !topLevel {
				return p.errf(tag.line, "sub-packages must not declare nested sub-packages")
			}
			if tag.hasBlock {
				var sub Recipe
				if err := p.buildRecipe(&sub, tag.children, r.Name, false); err != nil {
					return err
				}
				r.SubPackages = append(r.SubPackages, SubPackage{Recipe: &sub})
			} else {
				s, err := p.stringValue(tag)
				if err != nil {
					return err
				}
				r.SubPackages = append(r.SubPackages, SubPackage{Path: s})
			}
		default:
			handled, err := p.buildSettingsTag(&r.BuildSettings, tag)
			if err != nil {
				return err
			}
			if !handled {
				p.logger.Warn("ignoring unknown recipe attribute", "file", p.file, "attribute", tag.name)
			}
		}
	}
	return nil
}

func (p *sdlParser) buildSettingsTag(t *BuildSettingsTemplate, tag sdlTag) (bool, error) {
	platformFilter := ""
	if v, ok := tag.attr("platform"); ok {
		if v.kind != tkString {
			return false, &InvalidValueError{File: p.file, Field: tag.name, Msg: "platform attribute must be a string"}
		}
		platformFilter = v.text
	}

	switch tag.name {
	case "targetType":
		s, err := p.stringValue(tag)
		if err != nil {
			return false, err
		}
		tt, err := ParseTargetType(s)
		if err != nil {
			return false, &InvalidValueError{File: p.file, Field: tag.name, Msg: err.Error()}
		}
		t.TargetType = tt
		return true, nil
	case "targetPath", "targetName", "workingDirectory", "mainSourceFile":
		s, err := p.stringValue(tag)
		if err != nil {
			return false, err
		}
		switch tag.name {
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
	case "dependency":
		if len(tag.values) != 1 || tag.values[0].kind != tkString {
			return false, p.errf(tag.line, "dependency requires a package name")
		}
		name := tag.values[0].text
		dep := version.AnyDependency()
		if v, ok := tag.attr("path"); ok {
			dep = version.FromPath(v.text)
		} else if v, ok := tag.attr("version"); ok {
			parsed, err := version.ParseDependency(v.text)
			if err != nil {
				return false, &InvalidValueError{File: p.file, Field: "dependency " + name, Msg: err.Error()}
			}
			dep = parsed
		}
		if v, ok := tag.attr("optional"); ok {
			dep.Optional = v.kind == tkBool && v.text == "true"
		}
		if v, ok := tag.attr("default"); ok {
			dep.Default = v.kind == tkBool && v.text == "true"
		}
		t.AddDependency(name, dep)
		return true, nil
	case "subConfiguration":
		if len(tag.values) != 2 || tag.values[0].kind != tkString || tag.values[1].kind != tkString {
			return false, p.errf(tag.line, "subConfiguration requires a package name and a configuration name")
		}
		t.SetSubConfiguration(tag.values[0].text, tag.values[1].text)
		return true, nil
	case "buildRequirements":
		list, err := p.stringValues(tag)
		if err != nil {
			return false, err
		}
		var bits BuildRequirements
		for _, name := range list {
			b, err := ParseBuildRequirement(name)
			if err != nil {
				return false, &InvalidValueError{File: p.file, Field: tag.name, Msg: err.Error()}
			}
			bits |= b
		}
		t.BuildRequirements.Add(platformFilter, uint32(bits))
		return true, nil
	case "buildOptions":
		list, err := p.stringValues(tag)
		if err != nil {
			return false, err
		}
		var bits BuildOptions
		for _, name := range list {
			b, err := ParseBuildOption(name)
			if err != nil {
				return false, &InvalidValueError{File: p.file, Field: tag.name, Msg: err.Error()}
			}
			bits |= b
		}
		t.BuildOptions.Add(platformFilter, uint32(bits))
		return true, nil
	}

	if f := t.listField(tag.name); f != nil {
		list, err := p.stringValues(tag)
		if err != nil {
			return false, err
		}
		f.Add(platformFilter, list...)
		return true, nil
	}
	return false, nil
}

// --- encoding ---

func encodeSDL(r Recipe) ([]byte, error) {
	var b bytes.Buffer
	writeRecipeSDL(&b, r, "")
	return b.Bytes(), nil
}

func sdlQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, c := range s {
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func writeTagSDL(b *bytes.Buffer, indent, name string, values ...string) {
	b.WriteString(indent)
	b.WriteString(name)
	for _, v := range values {
		b.WriteByte(' ')
		b.WriteString(sdlQuote(v))
	}
	b.WriteByte('\n')
}

func writeRecipeSDL(b *bytes.Buffer, r Recipe, indent string) {
	if r.Name != "" {
		writeTagSDL(b, indent, "name", r.Name)
	}
	if r.Version != "" {
		writeTagSDL(b, indent, "version", r.Version)
	}
	if r.Description != "" {
		writeTagSDL(b, indent, "description", r.Description)
	}
	if r.Homepage != "" {
		writeTagSDL(b, indent, "homepage", r.Homepage)
	}
	if len(r.Authors) > 0 {
		writeTagSDL(b, indent, "authors", r.Authors...)
	}
	if r.Copyright != "" {
		writeTagSDL(b, indent, "copyright", r.Copyright)
	}
	if r.License != "" {
		writeTagSDL(b, indent, "license", r.License)
	}
	writeSettingsSDL(b, r.BuildSettings, indent)

	for _, c := range r.Configurations {
		b.WriteString(indent)
		b.WriteString("configuration ")
		b.WriteString(sdlQuote(c.Name))
		b.WriteString(" {\n")
		inner := indent + "\t"
		if len(c.Platforms) > 0 {
			writeTagSDL(b, inner, "platforms", c.Platforms...)
		}
		writeSettingsSDL(b, c.BuildSettings, inner)
		b.WriteString(indent)
		b.WriteString("}\n")
	}

	if len(r.BuildTypes) > 0 {
		names := make([]string, 0, len(r.BuildTypes))
		for name := range r.BuildTypes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			b.WriteString(indent)
			b.WriteString("buildType ")
			b.WriteString(sdlQuote(name))
			b.WriteString(" {\n")
			writeSettingsSDL(b, r.BuildTypes[name], indent+"\t")
			b.WriteString(indent)
			b.WriteString("}\n")
		}
	}

	for _, sp := range r.SubPackages {
		if sp.Recipe != nil {
			b.WriteString(indent)
			b.WriteString("subPackage {\n")
			writeRecipeSDL(b, *sp.Recipe, indent+"\t")
			b.WriteString(indent)
			b.WriteString("}\n")
		} else {
			writeTagSDL(b, indent, "subPackage", sp.Path)
		}
	}
}

func writeSettingsSDL(b *bytes.Buffer, t BuildSettingsTemplate, indent string) {
	if t.TargetType != TargetUnspecified {
		writeTagSDL(b, indent, "targetType", t.TargetType.String())
	}
	if t.TargetPath != "" {
		writeTagSDL(b, indent, "targetPath", t.TargetPath)
	}
	if t.TargetName != "" {
		writeTagSDL(b, indent, "targetName", t.TargetName)
	}
	if t.WorkingDirectory != "" {
		writeTagSDL(b, indent, "workingDirectory", t.WorkingDirectory)
	}
	if t.MainSourceFile != "" {
		writeTagSDL(b, indent, "mainSourceFile", t.MainSourceFile)
	}

	if len(t.Dependencies) > 0 {
		names := make([]string, 0, len(t.Dependencies))
		for name := range t.Dependencies {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			dep := t.Dependencies[name]
			b.WriteString(indent)
			b.WriteString("dependency ")
			b.WriteString(sdlQuote(name))
			if dep.IsPath() {
				b.WriteString(" path=")
				b.WriteString(sdlQuote(dep.Path))
			} else {
				b.WriteString(" version=")
				b.WriteString(sdlQuote(dep.Range.String()))
			}
			if dep.Optional {
				b.WriteString(" optional=true")
			}
			if dep.Default {
				b.WriteString(" default=true")
			}
			b.WriteByte('\n')
		}
	}

	if len(t.SubConfigurations) > 0 {
		names := make([]string, 0, len(t.SubConfigurations))
		for name := range t.SubConfigurations {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			writeTagSDL(b, indent, "subConfiguration", name, t.SubConfigurations[name])
		}
	}

	tmp := t
	for _, attr := range listFieldNames {
		for _, e := range tmp.listField(attr).Entries {
			writeTaggedSDL(b, indent, attr, e.Filter, e.Values)
		}
	}
	for _, e := range t.BuildRequirements.Entries {
		writeTaggedSDL(b, indent, "buildRequirements", e.Filter, BuildRequirements(e.Bits).Names())
	}
	for _, e := range t.BuildOptions.Entries {
		writeTaggedSDL(b, indent, "buildOptions", e.Filter, BuildOptions(e.Bits).Names())
	}
}

func writeTaggedSDL(b *bytes.Buffer, indent, name, filter string, values []string) {
	b.WriteString(indent)
	b.WriteString(name)
	for _, v := range values {
		b.WriteByte(' ')
		b.WriteString(sdlQuote(v))
	}
	if filter != "" {
		b.WriteString(" platform=")
		b.WriteString(sdlQuote(filter))
	}
	b.WriteByte('\n')
}
