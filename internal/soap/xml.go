package soap

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	nsSOAP = "http://schemas.xmlsoap.org/soap/envelope/"
	nsXSI  = "http://www.w3.org/2001/XMLSchema-instance"
	prefix = "ns:"

	// attrPrefix marks payload keys rendered as attributes, e.g. "@xsi:type".
	attrPrefix = "@"
)

// header is the RequestHeader sent with every call.
type header struct {
	NetworkCode     string
	ApplicationName string
}

// buildEnvelope renders a SOAP 1.1 request for method with payload as its
// body element. Map keys are emitted in sorted order; slices repeat the
// element; nil values are omitted.
func buildEnvelope(namespace string, h header, method string, payload map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)

	root := xml.StartElement{
		Name: xml.Name{Local: "soapenv:Envelope"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns:soapenv"}, Value: nsSOAP},
			{Name: xml.Name{Local: "xmlns:xsi"}, Value: nsXSI},
			{Name: xml.Name{Local: "xmlns:ns"}, Value: namespace},
		},
	}
	if err := enc.EncodeToken(root); err != nil {
		return nil, errors.WithStack(err)
	}

	if err := encodeElement(enc, "soapenv:Header", map[string]any{
		prefix + "RequestHeader": headerValues(h),
	}); err != nil {
		return nil, err
	}

	body := map[string]any{}
	if payload != nil {
		body = payload
	}
	if err := encodeElement(enc, "soapenv:Body", map[string]any{prefix + method: prefixKeys(body)}); err != nil {
		return nil, err
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := enc.Flush(); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

func headerValues(h header) map[string]any {
	v := map[string]any{prefix + "applicationName": h.ApplicationName}
	if h.NetworkCode != "" {
		v[prefix+"networkCode"] = h.NetworkCode
	}
	return v
}

// prefixKeys qualifies every element name with the service namespace prefix.
// Attribute keys are left as they are.
func prefixKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if strings.HasPrefix(k, attrPrefix) {
				out[k] = val
				continue
			}
			out[prefix+k] = prefixKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = prefixKeys(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = prefixKeys(val)
		}
		return out
	default:
		return v
	}
}

func encodeElement(enc *xml.Encoder, name string, v any) error {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		for _, item := range t {
			if err := encodeElement(enc, name, item); err != nil {
				return err
			}
		}
		return nil
	case []string:
		for _, item := range t {
			if err := encodeElement(enc, name, item); err != nil {
				return err
			}
		}
		return nil
	}

	start := xml.StartElement{Name: xml.Name{Local: name}}
	m, isMap := v.(map[string]any)

	var keys []string
	if isMap {
		keys = make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !strings.HasPrefix(k, attrPrefix) {
				continue
			}
			text, err := scalarText(m[k])
			if err != nil {
				return errors.Wrapf(err, "attribute %s", k)
			}
			start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: strings.TrimPrefix(k, attrPrefix)}, Value: text})
		}
	}

	if err := enc.EncodeToken(start); err != nil {
		return errors.WithStack(err)
	}

	if isMap {
		for _, k := range keys {
			if strings.HasPrefix(k, attrPrefix) {
				continue
			}
			if err := encodeElement(enc, k, m[k]); err != nil {
				return err
			}
		}
	} else {
		text, err := scalarText(v)
		if err != nil {
			return errors.Wrapf(err, "element %s", name)
		}
		if err := enc.EncodeToken(xml.CharData(text)); err != nil {
			return errors.WithStack(err)
		}
	}

	return errors.WithStack(enc.EncodeToken(start.End()))
}

func scalarText(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case time.Time:
		return t.Format(time.RFC3339), nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return "", fmt.Errorf("unsupported payload value of type %T", v)
	}
}

// node is a generic parsed XML element.
type node struct {
	name     string
	text     strings.Builder
	children []*node
}

func (n *node) child(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// find returns the first descendant named name, depth first.
func (n *node) find(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
		if d := c.find(name); d != nil {
			return d
		}
	}
	return nil
}

func parseTree(r io.Reader) (*node, error) {
	dec := xml.NewDecoder(r)
	root := &node{}
	stack := []*node{root}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, n)
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			stack[len(stack)-1].text.Write(t)
		}
	}
	if len(stack) != 1 {
		return nil, io.ErrUnexpectedEOF
	}
	return root, nil
}

// soapFault is the content of a soap:Fault element.
type soapFault struct {
	code    string
	message string
}

// parseResponse splits a response document into either a result or a fault.
// A document that is not a SOAP envelope returns an error.
func parseResponse(r io.Reader) (Result, *soapFault, error) {
	root, err := parseTree(r)
	if err != nil {
		return nil, nil, fmt.Errorf("parse response: %w", err)
	}

	env := root.child("Envelope")
	if env == nil {
		return nil, nil, fmt.Errorf("parse response: missing Envelope")
	}
	body := env.child("Body")
	if body == nil {
		return nil, nil, fmt.Errorf("parse response: missing Body")
	}
	if len(body.children) == 0 {
		return Result{}, nil, nil
	}

	first := body.children[0]
	if first.name == "Fault" {
		return nil, faultFromNode(first), nil
	}

	res, ok := toValue(first).(map[string]any)
	if !ok {
		return Result{}, nil, nil
	}
	return Result(res), nil, nil
}

func faultFromNode(n *node) *soapFault {
	f := &soapFault{}
	if fs := n.child("faultstring"); fs != nil {
		f.message = strings.TrimSpace(fs.text.String())
	}
	if detail := n.child("detail"); detail != nil {
		if es := detail.find("errorString"); es != nil {
			f.code = strings.TrimSpace(es.text.String())
		}
	}
	if f.code == "" {
		f.code = codeFromFaultString(f.message)
	}
	if f.code == "" {
		if fc := n.child("faultcode"); fc != nil {
			f.code = strings.TrimSpace(fc.text.String())
		}
	}
	return f
}

// codeFromFaultString extracts "X.Y" from "[X.Y @ field; trigger:'...']".
func codeFromFaultString(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") {
		return ""
	}
	s = strings.TrimPrefix(s, "[")
	if i := strings.Index(s, " @"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, "]")
	return strings.TrimSpace(s)
}

// toValue converts an element into a string for text leaves or a map of its
// children. Repeated child names collect into []any.
func toValue(n *node) any {
	if len(n.children) == 0 {
		return strings.TrimSpace(n.text.String())
	}
	out := make(map[string]any, len(n.children))
	for _, c := range n.children {
		v := toValue(c)
		existing, seen := out[c.name]
		switch {
		case !seen:
			out[c.name] = v
		default:
			if list, ok := existing.([]any); ok {
				out[c.name] = append(list, v)
			} else {
				out[c.name] = []any{existing, v}
			}
		}
	}
	return out
}

// Values returns the rval content of a result as a list. A single rval is
// returned as a one-element list; a missing rval yields nil.
func (r Result) Values() []any {
	return asList(r["rval"])
}

// First returns the first rval entry as a map, or nil.
func (r Result) First() map[string]any {
	for _, v := range r.Values() {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// Page returns the results of a statement query. Ad Manager wraps them as
// rval/results; a page with no results yields an empty, non-nil list.
func (r Result) Page() []any {
	page := r.First()
	if page == nil {
		return []any{}
	}
	results := asList(page["results"])
	if results == nil {
		return []any{}
	}
	return results
}

func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}
