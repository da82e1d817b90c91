package core

import "google.golang.org/genai"

func str(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

func strList(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Description: desc, Items: &genai.Schema{Type: genai.TypeString}}
}

func object(required []string, props map[string]*genai.Schema) *genai.Schema {
	return &genai.Schema{Type: genai.TypeObject, Properties: props, Required: required}
}

func listOf(desc string, item *genai.Schema) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Description: desc, Items: item}
}

// planSchema adds the shared title and description to the mode specific properties.
func planSchema(required []string, props map[string]*genai.Schema) *genai.Schema {
	props["title"] = str("Short title of the artifact")
	props["description"] = str("One paragraph describing what will be built")
	return object(append([]string{"title", "description"}, required...), props)
}

var plannedFileSchema = object([]string{"path", "purpose"}, map[string]*genai.Schema{
	"path":    str("Relative file path"),
	"purpose": str("What the file contains"),
})

var fileEntrySchema = object([]string{"path", "content"}, map[string]*genai.Schema{
	"path":    str("Relative file path"),
	"content": str("Complete file content"),
})

var (
	webAppPlanSchema = planSchema([]string{"features"}, map[string]*genai.Schema{
		"features": strList("User facing features, one per entry"),
	})

	nativeAppPlanSchema = planSchema([]string{"screens", "features"}, map[string]*genai.Schema{
		"screens":  strList("Screens of the app"),
		"features": strList("User facing features"),
	})

	componentPlanSchema = planSchema([]string{"name", "props"}, map[string]*genai.Schema{
		"name": str("PascalCase component name"),
		"props": listOf("Component props", object([]string{"name", "type"}, map[string]*genai.Schema{
			"name":        str("Prop name"),
			"type":        str("Prop type"),
			"description": str("What the prop controls"),
		})),
	})

	formPlanSchema = planSchema([]string{"fields", "submit_label"}, map[string]*genai.Schema{
		"fields": listOf("Form fields in display order", object([]string{"name", "label", "type", "required"}, map[string]*genai.Schema{
			"name":     str("Field name used in the submitted data"),
			"label":    str("Visible label"),
			"type":     str("Input type: text, email, number, date, select, checkbox, textarea, ..."),
			"required": {Type: genai.TypeBoolean},
			"options":  strList("Choices for select and radio fields"),
		})),
		"submit_label": str("Text of the submit button"),
	})

	documentPlanSchema = planSchema([]string{"sections"}, map[string]*genai.Schema{
		"sections": listOf("Document outline", object([]string{"heading", "summary"}, map[string]*genai.Schema{
			"heading": str("Section heading"),
			"summary": str("What the section covers"),
		})),
	})

	flashcardPlanSchema = planSchema([]string{"topic", "cards"}, map[string]*genai.Schema{
		"topic": str("Subject of the deck"),
		"cards": listOf("Cards of the deck", object([]string{"front", "back"}, map[string]*genai.Schema{
			"front": str("Question or term"),
			"back":  str("Answer or definition"),
		})),
	})

	projectPlanSchema = planSchema([]string{"stack", "files"}, map[string]*genai.Schema{
		"stack": strList("Languages, frameworks and tools"),
		"files": listOf("Every file of the project", plannedFileSchema),
	})

	fullStackPlanSchema = planSchema([]string{"stack", "frontend", "backend", "endpoints"}, map[string]*genai.Schema{
		"stack":    strList("Languages, frameworks and tools"),
		"frontend": listOf("Frontend files", plannedFileSchema),
		"backend":  listOf("Backend files", plannedFileSchema),
		"endpoints": listOf("HTTP API of the backend", object([]string{"method", "path"}, map[string]*genai.Schema{
			"method":      str("HTTP method"),
			"path":        str("Route path"),
			"description": str("What the endpoint does"),
		})),
	})

	singleFileSchema = object([]string{"code"}, map[string]*genai.Schema{
		"code": str("Complete content of the file"),
	})

	fileMapSchema = object([]string{"files"}, map[string]*genai.Schema{
		"files": listOf("Every file of the artifact", fileEntrySchema),
	})

	singleFileEditSchema = object([]string{"code", "summary", "files_edited"}, map[string]*genai.Schema{
		"code":         str("Complete updated content of the file"),
		"summary":      str("Human readable summary of the change"),
		"files_edited": strList("Files conceptually touched by the change"),
	})

	fileMapEditSchema = object([]string{"files", "summary", "files_edited"}, map[string]*genai.Schema{
		"files":        listOf("Every file of the artifact, changed or not", fileEntrySchema),
		"summary":      str("Human readable summary of the change"),
		"files_edited": strList("Files conceptually touched by the change"),
	})

	singleFileReviewSchema = object([]string{"summary"}, map[string]*genai.Schema{
		"summary": str(`Exactly "` + NoChangesNeeded + `" when the artifact satisfies the request, otherwise a summary of the fix`),
		"code":    str("Complete corrected file, only when a fix is needed"),
	})

	fileMapReviewSchema = object([]string{"summary"}, map[string]*genai.Schema{
		"summary": str(`Exactly "` + NoChangesNeeded + `" when the artifact satisfies the request, otherwise a summary of the fix`),
		"files":   listOf("Every file of the corrected artifact, only when a fix is needed", fileEntrySchema),
	})

	testSchema = object([]string{"target_selector", "action", "justification"}, map[string]*genai.Schema{
		"target_selector": str("CSS selector of the element to interact with"),
		"action":          {Type: genai.TypeString, Enum: testActions, Description: "Interaction to perform"},
		"value":           str("Text to type, only for the type action"),
		"justification":   str("Why this interaction exercises the primary function"),
		"expected":        str("Observable result of the interaction"),
	})
)

var testActions = []string{"click", "type", "hover", "submit"}
