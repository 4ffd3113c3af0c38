package automation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/parkflow/parkflow-core/internal/pointcache"
)

// Validation limits.
const (
	maxNodes    = 500
	maxIDLength = 100
)

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()

	// Report problems by the JSON field names the editor uses.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	if err := v.RegisterValidation("point", validatePoint); err != nil {
		panic(err)
	}
	return v
}

// validatePoint accepts the point cache column names in_1..in_8 and out_1..out_8.
func validatePoint(fl validator.FieldLevel) bool {
	_, err := pointcache.ParsePoint(fl.Field().String())
	return err == nil
}

// ValidateNode checks that a node is fully configured for its kind.
func ValidateNode(n Node) error {
	problems := nodeProblems(n)
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidNode, strings.Join(problems, "; "))
}

// ValidateGraph checks a flow before it may start. Every problem is
// collected and returned together as a *ValidationError.
func ValidateGraph(g *Graph) error {
	if g == nil || len(g.Nodes) == 0 {
		return &ValidationError{Problems: []string{"flow has no nodes"}}
	}

	var problems []string
	if len(g.Nodes) > maxNodes {
		problems = append(problems, fmt.Sprintf("flow exceeds %d nodes", maxNodes))
	}

	ids := make(map[string]struct{}, len(g.Nodes))
	triggers := 0
	for _, n := range g.Nodes {
		if _, dup := ids[n.ID]; dup && n.ID != "" {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		ids[n.ID] = struct{}{}
		if n.Kind == KindTrigger {
			triggers++
		}
		problems = append(problems, nodeProblems(n)...)
	}
	if triggers == 0 {
		problems = append(problems, "flow has no trigger node")
	}

	for i, e := range g.Edges {
		label := e.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if _, ok := ids[e.Source]; !ok {
			problems = append(problems, fmt.Sprintf("edge %s: unknown source node %q", label, e.Source))
		}
		if _, ok := ids[e.Target]; !ok {
			problems = append(problems, fmt.Sprintf("edge %s: unknown target node %q", label, e.Target))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func nodeProblems(n Node) []string {
	if n.ID == "" {
		return []string{fmt.Sprintf("%s node has no id", n.Kind)}
	}
	if len(n.ID) > maxIDLength {
		return []string{fmt.Sprintf("node id %q exceeds %d characters", n.ID[:20]+"...", maxIDLength)}
	}

	var view any
	switch n.Kind {
	case KindTrigger:
		view = n.Config.Trigger()
	case KindMove:
		view = n.Config.Move()
	case KindSet:
		view = n.Config.Set()
	case KindCheck:
		view = n.Config.Check()
	default:
		return []string{fmt.Sprintf("node %q: unknown kind %q", n.ID, n.Kind)}
	}

	err := configValidator.Struct(view)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{fmt.Sprintf("node %q: %v", n.ID, err)}
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, fmt.Sprintf("%s node %q: %s %s", n.Kind, n.ID, fe.Field(), fieldMessage(fe)))
	}
	return problems
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "point":
		return "must be one of in_1..in_8 or out_1..out_8"
	case "oneof":
		return "must be one of " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
