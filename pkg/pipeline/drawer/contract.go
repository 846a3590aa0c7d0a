package drawer

import (
	"io"

	"github.com/askiada/go-stepline/pkg/pipeline/measure"
)

// Drawer is an interface that defines the methods for drawing the dependency graph of a pipeline.
type Drawer interface {
	// AddStep adds a step to the pipeline drawer.
	AddStep(stepName string) error
	// MarkMissing adds a step that is depended upon but not registered.
	MarkMissing(stepName string) error
	// AddLink adds a link from a dependency to the step that depends on it.
	AddLink(dependencyName, stepName string) error
	// AddMeasure labels and colours the steps with their average duration.
	AddMeasure(measure measure.Measure) error
	// Render writes the graph in DOT format.
	Render(w io.Writer) error
	// Draw creates a file with the pipeline graph.
	Draw() error
}
