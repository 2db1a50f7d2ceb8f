package main

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/bonsaibuild/bonsai/pkg/graph"
	"github.com/bonsaibuild/bonsai/pkg/label"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// buildManifest is the hand-off format between the loading front end
// and this analysis and execution core: the flattened target graph, the
// rule definition files to load, and the request parameters.
type buildManifest struct {
	RuleFiles []string         `json:"ruleFiles"`
	Targets   []targetManifest `json:"targets"`

	Requested    []string `json:"requested"`
	OutputGroups []string `json:"outputGroups"`

	TargetConfiguration map[string]map[string]string `json:"targetConfiguration"`
	HostConfiguration   map[string]map[string]string `json:"hostConfiguration"`

	Parallelism    int    `json:"parallelism"`
	CacheDirectory string `json:"cacheDirectory"`
}

type targetManifest struct {
	Label    string                  `json:"label"`
	RuleKind string                  `json:"ruleKind"`
	Attrs    map[string]attrManifest `json:"attrs"`
}

// attrManifest is one attribute value. Exactly one member must be set;
// the member's name selects the attribute value's type.
type attrManifest struct {
	String  *string  `json:"string,omitempty"`
	Bool    *bool    `json:"bool,omitempty"`
	Int     *int64   `json:"int,omitempty"`
	Strings []string `json:"strings,omitempty"`
	Label   *string  `json:"label,omitempty"`
	Labels  []string `json:"labels,omitempty"`
	Output  *string  `json:"output,omitempty"`
}

func readBuildManifest(path string) (*buildManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, util.StatusWrapf(err, "Failed to read %#v", path)
	}
	var manifest buildManifest
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&manifest); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Invalid build manifest %#v: %s", path, err)
	}
	return &manifest, nil
}

func (tm *targetManifest) toTarget() (*graph.Target, error) {
	l, err := label.NewLabel(tm.Label)
	if err != nil {
		return nil, err
	}
	attrs := make(map[string]graph.AttrValue, len(tm.Attrs))
	for name, value := range tm.Attrs {
		av, err := value.toAttrValue()
		if err != nil {
			return nil, util.StatusWrapf(err, "Invalid attribute %#v of target %#v", name, tm.Label)
		}
		attrs[name] = av
	}
	return graph.NewTarget(l, tm.RuleKind, attrs), nil
}

func (am *attrManifest) toAttrValue() (graph.AttrValue, error) {
	switch {
	case am.String != nil:
		return graph.NewStringValue(*am.String), nil
	case am.Bool != nil:
		return graph.NewBoolValue(*am.Bool), nil
	case am.Int != nil:
		return graph.NewIntValue(*am.Int), nil
	case am.Strings != nil:
		return graph.NewStringListValue(am.Strings), nil
	case am.Label != nil:
		l, err := label.NewLabel(*am.Label)
		if err != nil {
			return graph.AttrValue{}, err
		}
		return graph.NewLabelValue(l), nil
	case am.Labels != nil:
		labels := make([]label.Label, 0, len(am.Labels))
		for _, labelString := range am.Labels {
			l, err := label.NewLabel(labelString)
			if err != nil {
				return graph.AttrValue{}, err
			}
			labels = append(labels, l)
		}
		return graph.NewLabelListValue(labels), nil
	case am.Output != nil:
		return graph.NewOutputValue(*am.Output), nil
	default:
		return graph.AttrValue{}, status.Error(codes.InvalidArgument, "Attribute value does not set any type member")
	}
}
