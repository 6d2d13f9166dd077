package form

// Field identifies one ad form input.
type Field string

const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldPrice       Field = "price"
	FieldPostalCode  Field = "postalCode"
	FieldCategory    Field = "category"
)

// FieldLocator describes how to locate a field: by CSS selector, by label text
// or by keywords in its name/id/placeholder/aria-label.
type FieldLocator struct {
	Field     Field
	Selectors []string
	Labels    []string
	Keywords  []string
}

var titleLocator = FieldLocator{
	Field: FieldTitle,
	Selectors: []string{
		`input[name="title"]`,
		`input[name="adTitle"]`,
		`input[id*="title"]`,
		`input[placeholder*="Titel"]`,
		`input[placeholder*="Title"]`,
		`input[aria-label*="Titel"]`,
		`input[aria-label*="Title"]`,
		`input[data-testid*="title"]`,
	},
	Labels:   []string{"Titel", "Title"},
	Keywords: []string{"title", "titel"},
}

var descriptionLocator = FieldLocator{
	Field: FieldDescription,
	Selectors: []string{
		`textarea[name="description"]`,
		`textarea[name="adDescription"]`,
		`textarea[id*="description"]`,
		`textarea[placeholder*="Beschreibung"]`,
		`textarea[placeholder*="Description"]`,
		`textarea[aria-label*="Beschreibung"]`,
		`textarea[aria-label*="Description"]`,
		`textarea[data-testid*="description"]`,
	},
	Labels:   []string{"Beschreibung", "Description"},
	Keywords: []string{"description", "beschreibung"},
}

var priceLocator = FieldLocator{
	Field: FieldPrice,
	Selectors: []string{
		`input[name="price"]`,
		`input[name="priceAmount"]`,
		`input[name="priceInCents"]`,
		`input[id*="priceAmount"]`,
		`input[id="micro-frontend-price"]`,
		`input[id*="price"]`,
		`input[placeholder*="Preis"]`,
		`input[aria-label*="Preis"]`,
		`input[data-testid*="price"]`,
	},
	Labels:   []string{"Preis", "Price"},
	Keywords: []string{"price", "preis"},
}

var postalLocator = FieldLocator{
	Field: FieldPostalCode,
	Selectors: []string{
		`input[name="zipcode"]`,
		`input[name="plz"]`,
		`input[name*="zip"]`,
		`input[id*="zip"]`,
		`input[id*="plz"]`,
		`input[placeholder*="PLZ"]`,
		`input[placeholder*="Postleitzahl"]`,
		`input[aria-label*="PLZ"]`,
		`input[aria-label*="Postleitzahl"]`,
		`input[data-testid*="zip"]`,
	},
	Labels:   []string{"PLZ", "Postleitzahl"},
	Keywords: []string{"zip", "plz", "postleitzahl"},
}

var categoryLocator = FieldLocator{
	Field: FieldCategory,
	Selectors: []string{
		`input[name="categoryId"]`,
		`select[name="categoryId"]`,
		`input[id*="category"]`,
		`select[id*="category"]`,
		`input[data-testid*="category"]`,
		`select[data-testid*="category"]`,
	},
	Labels: []string{"Kategorie", "Category"},
}

// Catalog maps every ad field to its locator.
var Catalog = map[Field]FieldLocator{
	FieldTitle:       titleLocator,
	FieldDescription: descriptionLocator,
	FieldPrice:       priceLocator,
	FieldPostalCode:  postalLocator,
	FieldCategory:    categoryLocator,
}

// formMarkers identify the ad form inside a target.
var formMarkers = []string{
	`input[name="title"]`,
	`input[name="adTitle"]`,
	`textarea[name="description"]`,
	`textarea[name="adDescription"]`,
	`input[name="price"]`,
	`input[name="priceAmount"]`,
	`input[id="micro-frontend-price"]`,
}

// categorySummarySelectors mark an already chosen category.
var categorySummarySelectors = []string{
	`[data-testid*="category"]`,
	`[data-test*="category"]`,
	`[class*="category"]`,
	`a[href*="kategorie-aendern"]`,
}

var (
	categoryOpenSelectors = []string{
		"#pstad-lnk-chngeCtgry",
		"#categorySection a",
		"a[href*='p-kategorie-aendern']",
	}
	categoryOpenTexts    = []string{"Wähle deine Kategorie", "Kategorie wählen"}
	categoryIDSelectors  = []string{"#categoryIdField", "select[name='categoryId']", "select[id*='category']"}
	microFrontendPrice   = "#micro-frontend-price"
	imageInputSelector   = `input[type="file"]`
	categoryContinueText = []string{"Weiter"}
)
