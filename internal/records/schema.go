package records

type Kind string

const (
	KindText     Kind = "text"
	KindTextarea Kind = "textarea"
	KindRichText Kind = "richtext"
	KindNumber   Kind = "number"
	KindMoney    Kind = "money"
	KindPercent  Kind = "percent"
	KindDate     Kind = "date"
	KindSelect   Kind = "select"
	KindEmail    Kind = "email"
	KindPhone    Kind = "phone"
	KindBool     Kind = "bool"
	KindRef      Kind = "ref"
	KindItems    Kind = "items"
)

type Field struct {
	Key      string
	Label    string
	Kind     Kind
	Options  []string
	Required bool
	InList   bool
	// Computed fields are filled by ComputeTotals and rendered read-only.
	Computed bool
	// Ref names the schema a KindRef field points at.
	Ref     string
	Columns []Field
}

// Scalar reports whether the field renders as a single value.
func (f Field) Scalar() bool {
	return f.Kind != KindItems && f.Kind != KindRichText
}

// Link ties a record to the record it was derived from.
type Link struct {
	Entity string
	Key    string
}

type Schema struct {
	Name        string
	Singular    string
	Plural      string
	Endpoint    string
	NumberField string
	TitleField  string
	StatusField string
	Fields      []Field
	Parent      *Link
	// Derive maps a source schema name to target key -> source key.
	Derive        map[string]map[string]string
	Approvable    bool
	ApproveStatus string
	RejectStatus  string
	Attachments   bool
	Importable    bool
	ReadOnly      bool
	PDFTitle      string
}

func (s *Schema) Field(key string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

func (s *Schema) ListFields() []Field {
	out := make([]Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.InList {
			out = append(out, f)
		}
	}
	return out
}

// Title is the human label for one record, e.g. "QT-0004 · Riverside Offices".
func (s *Schema) Title(rec Record) string {
	number := rec.String(s.NumberField)
	title := rec.String(s.TitleField)
	switch {
	case number != "" && title != "":
		return number + " · " + title
	case number != "":
		return number
	case title != "":
		return title
	default:
		return s.Singular + " " + rec.ID()
	}
}

// StatusOptions returns the options of the status field, if any.
func (s *Schema) StatusOptions() []string {
	if s.StatusField == "" {
		return nil
	}
	f, ok := s.Field(s.StatusField)
	if !ok {
		return nil
	}
	return f.Options
}

var itemColumns = []Field{
	{Key: "description", Label: "Description", Kind: KindText, Required: true},
	{Key: "unit", Label: "Unit", Kind: KindText},
	{Key: "quantity", Label: "Qty", Kind: KindNumber},
	{Key: "rate", Label: "Rate", Kind: KindMoney},
	{Key: "amount", Label: "Amount", Kind: KindMoney, Computed: true},
}

var receiptColumns = []Field{
	{Key: "grnNumber", Label: "GRN No", Kind: KindText, Required: true},
	{Key: "receivedDate", Label: "Received", Kind: KindDate},
	{Key: "description", Label: "Description", Kind: KindText},
	{Key: "quantity", Label: "Qty", Kind: KindNumber},
	{Key: "receivedBy", Label: "Received By", Kind: KindText},
}

func pricingFields() []Field {
	return []Field{
		{Key: "items", Label: "Line Items", Kind: KindItems, Columns: itemColumns},
		{Key: "taxPercent", Label: "Tax %", Kind: KindPercent},
		{Key: "subtotal", Label: "Subtotal", Kind: KindMoney, Computed: true},
		{Key: "taxAmount", Label: "Tax", Kind: KindMoney, Computed: true},
		{Key: "total", Label: "Total", Kind: KindMoney, Computed: true, InList: true},
	}
}

func join(groups ...[]Field) []Field {
	var out []Field
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var (
	Leads = &Schema{
		Name: "leads", Singular: "Lead", Plural: "Leads", Endpoint: "/api/leads",
		NumberField: "number", TitleField: "customerName", StatusField: "status",
		Importable: true, Attachments: true, PDFTitle: "Lead Summary",
		Fields: []Field{
			{Key: "number", Label: "Lead No", Kind: KindText, InList: true, Computed: true},
			{Key: "customerName", Label: "Customer", Kind: KindText, Required: true, InList: true},
			{Key: "contactPerson", Label: "Contact Person", Kind: KindText},
			{Key: "email", Label: "Email", Kind: KindEmail},
			{Key: "phone", Label: "Phone", Kind: KindPhone, InList: true},
			{Key: "source", Label: "Source", Kind: KindSelect, Options: []string{"Website", "Referral", "Walk-in", "Tender", "Repeat Client", "Other"}},
			{Key: "projectType", Label: "Project Type", Kind: KindSelect, Options: []string{"Residential", "Commercial", "Industrial", "Infrastructure", "Interior Fit-out"}, InList: true},
			{Key: "projectName", Label: "Project Name", Kind: KindText},
			{Key: "siteAddress", Label: "Site Address", Kind: KindTextarea},
			{Key: "estimatedValue", Label: "Estimated Value", Kind: KindMoney, InList: true},
			{Key: "expectedStartDate", Label: "Expected Start", Kind: KindDate},
			{Key: "assignedTo", Label: "Assigned To", Kind: KindText},
			{Key: "status", Label: "Status", Kind: KindSelect, Options: []string{"New", "Contacted", "Qualified", "Quoted", "Won", "Lost"}, InList: true},
			{Key: "requirements", Label: "Requirements", Kind: KindRichText},
			{Key: "notes", Label: "Notes", Kind: KindTextarea},
		},
	}

	Quotations = &Schema{
		Name: "quotations", Singular: "Quotation", Plural: "Quotations", Endpoint: "/api/quotations",
		NumberField: "number", TitleField: "projectName", StatusField: "status",
		Parent:     &Link{Entity: "leads", Key: "leadId"},
		Approvable: true, ApproveStatus: "Approved", RejectStatus: "Rejected",
		Attachments: true, PDFTitle: "Quotation",
		Derive: map[string]map[string]string{
			"leads": {
				"customerName":  "customerName",
				"contactPerson": "contactPerson",
				"email":         "email",
				"phone":         "phone",
				"projectName":   "projectName",
				"siteAddress":   "siteAddress",
				"scopeOfWork":   "requirements",
			},
		},
		Fields: join([]Field{
			{Key: "number", Label: "Quotation No", Kind: KindText, InList: true, Computed: true},
			{Key: "leadId", Label: "Lead", Kind: KindRef, Ref: "leads"},
			{Key: "customerName", Label: "Customer", Kind: KindText, Required: true, InList: true},
			{Key: "contactPerson", Label: "Contact Person", Kind: KindText},
			{Key: "email", Label: "Email", Kind: KindEmail},
			{Key: "phone", Label: "Phone", Kind: KindPhone},
			{Key: "projectName", Label: "Project Name", Kind: KindText, Required: true, InList: true},
			{Key: "siteAddress", Label: "Site Address", Kind: KindTextarea},
			{Key: "quotationDate", Label: "Date", Kind: KindDate, InList: true},
			{Key: "validUntil", Label: "Valid Until", Kind: KindDate},
			{Key: "status", Label: "Status", Kind: KindSelect, Options: []string{"Draft", "Sent", "Under Review", "Approved", "Rejected", "Accepted"}, InList: true},
		}, pricingFields(), []Field{
			{Key: "scopeOfWork", Label: "Scope of Work", Kind: KindRichText},
			{Key: "termsAndConditions", Label: "Terms & Conditions", Kind: KindRichText},
			{Key: "notes", Label: "Internal Notes", Kind: KindTextarea},
		}),
	}

	Revisions = &Schema{
		Name: "revisions", Singular: "Revision", Plural: "Revisions", Endpoint: "/api/revisions",
		NumberField: "number", TitleField: "customerName", StatusField: "status",
		Parent:     &Link{Entity: "quotations", Key: "quotationId"},
		Approvable: true, ApproveStatus: "Approved", RejectStatus: "Rejected",
		PDFTitle: "Quotation Revision",
		Derive: map[string]map[string]string{
			"quotations": {
				"customerName":       "customerName",
				"projectName":        "projectName",
				"items":              "items",
				"taxPercent":         "taxPercent",
				"scopeOfWork":        "scopeOfWork",
				"termsAndConditions": "termsAndConditions",
			},
		},
		Fields: join([]Field{
			{Key: "number", Label: "Revision No", Kind: KindText, InList: true, Computed: true},
			{Key: "quotationId", Label: "Quotation", Kind: KindRef, Ref: "quotations", Required: true},
			{Key: "revisionNumber", Label: "Rev", Kind: KindNumber, InList: true},
			{Key: "customerName", Label: "Customer", Kind: KindText, InList: true},
			{Key: "projectName", Label: "Project Name", Kind: KindText},
			{Key: "revisionDate", Label: "Date", Kind: KindDate, InList: true},
			{Key: "reason", Label: "Reason for Revision", Kind: KindTextarea, Required: true},
			{Key: "status", Label: "Status", Kind: KindSelect, Options: []string{"Draft", "Submitted", "Approved", "Rejected"}, InList: true},
		}, pricingFields(), []Field{
			{Key: "scopeOfWork", Label: "Scope of Work", Kind: KindRichText},
			{Key: "termsAndConditions", Label: "Terms & Conditions", Kind: KindRichText},
		}),
	}

	Projects = &Schema{
		Name: "projects", Singular: "Project", Plural: "Projects", Endpoint: "/api/projects",
		NumberField: "number", TitleField: "projectName", StatusField: "status",
		Parent:      &Link{Entity: "quotations", Key: "quotationId"},
		Attachments: true, PDFTitle: "Project Sheet",
		Derive: map[string]map[string]string{
			"quotations": {
				"projectName":   "projectName",
				"customerName":  "customerName",
				"siteAddress":   "siteAddress",
				"contractValue": "total",
				"description":   "scopeOfWork",
			},
		},
		Fields: []Field{
			{Key: "number", Label: "Project No", Kind: KindText, InList: true, Computed: true},
			{Key: "quotationId", Label: "Quotation", Kind: KindRef, Ref: "quotations"},
			{Key: "projectName", Label: "Project Name", Kind: KindText, Required: true, InList: true},
			{Key: "customerName", Label: "Customer", Kind: KindText, Required: true, InList: true},
			{Key: "siteAddress", Label: "Site Address", Kind: KindTextarea},
			{Key: "projectManager", Label: "Project Manager", Kind: KindText, InList: true},
			{Key: "startDate", Label: "Start Date", Kind: KindDate},
			{Key: "endDate", Label: "Target Completion", Kind: KindDate},
			{Key: "contractValue", Label: "Contract Value", Kind: KindMoney, InList: true},
			{Key: "status", Label: "Status", Kind: KindSelect, Options: []string{"Planning", "In Progress", "On Hold", "Completed", "Cancelled"}, InList: true},
			{Key: "description", Label: "Description", Kind: KindRichText},
		},
	}

	Variations = &Schema{
		Name: "project-variations", Singular: "Variation", Plural: "Variations", Endpoint: "/api/project-variations",
		NumberField: "number", TitleField: "title", StatusField: "status",
		Parent:     &Link{Entity: "projects", Key: "projectId"},
		Approvable: true, ApproveStatus: "Approved", RejectStatus: "Rejected",
		Attachments: true, PDFTitle: "Variation Order",
		Derive: map[string]map[string]string{
			"projects": {"projectName": "projectName"},
		},
		Fields: join([]Field{
			{Key: "number", Label: "Variation No", Kind: KindText, InList: true, Computed: true},
			{Key: "projectId", Label: "Project", Kind: KindRef, Ref: "projects", Required: true},
			{Key: "projectName", Label: "Project Name", Kind: KindText},
			{Key: "title", Label: "Title", Kind: KindText, Required: true, InList: true},
			{Key: "variationDate", Label: "Date", Kind: KindDate, InList: true},
			{Key: "reason", Label: "Reason", Kind: KindSelect, Options: []string{"Client Request", "Design Change", "Site Condition", "Regulatory", "Other"}},
			{Key: "timeImpactDays", Label: "Time Impact (days)", Kind: KindNumber},
			{Key: "status", Label: "Status", Kind: KindSelect, Options: []string{"Pending", "Approved", "Rejected"}, InList: true},
			{Key: "description", Label: "Description", Kind: KindRichText},
		}, pricingFields()),
	}

	SiteVisits = &Schema{
		Name: "site-visits", Singular: "Site Visit", Plural: "Site Visits", Endpoint: "/api/site-visits",
		NumberField: "number", TitleField: "purpose", StatusField: "status",
		Parent:      &Link{Entity: "projects", Key: "projectId"},
		Attachments: true, PDFTitle: "Site Visit Report",
		Derive: map[string]map[string]string{
			"projects": {"projectName": "projectName", "siteAddress": "siteAddress"},
		},
		Fields: []Field{
			{Key: "number", Label: "Visit No", Kind: KindText, InList: true, Computed: true},
			{Key: "projectId", Label: "Project", Kind: KindRef, Ref: "projects", Required: true},
			{Key: "projectName", Label: "Project Name", Kind: KindText, InList: true},
			{Key: "siteAddress", Label: "Site Address", Kind: KindTextarea},
			{Key: "visitDate", Label: "Visit Date", Kind: KindDate, Required: true, InList: true},
			{Key: "visitedBy", Label: "Visited By", Kind: KindText, InList: true},
			{Key: "purpose", Label: "Purpose", Kind: KindSelect, Options: []string{"Survey", "Inspection", "Progress Review", "Snag List", "Handover"}},
			{Key: "weather", Label: "Weather", Kind: KindText},
			{Key: "status", Label: "Status", Kind: KindSelect, Options: []string{"Scheduled", "Completed", "Cancelled"}, InList: true},
			{Key: "observations", Label: "Observations", Kind: KindRichText},
			{Key: "actionItems", Label: "Action Items", Kind: KindRichText},
			{Key: "nextVisitDate", Label: "Next Visit", Kind: KindDate},
		},
	}

	PurchaseOrders = &Schema{
		Name: "purchase-orders", Singular: "Purchase Order", Plural: "Purchase Orders", Endpoint: "/api/purchase-orders",
		NumberField: "number", TitleField: "supplierName", StatusField: "status",
		Parent:     &Link{Entity: "projects", Key: "projectId"},
		Approvable: true, ApproveStatus: "Issued", RejectStatus: "Cancelled",
		Attachments: true, PDFTitle: "Purchase Order",
		Derive: map[string]map[string]string{
			"projects": {"projectName": "projectName", "deliveryAddress": "siteAddress"},
		},
		Fields: join([]Field{
			{Key: "number", Label: "PO No", Kind: KindText, InList: true, Computed: true},
			{Key: "projectId", Label: "Project", Kind: KindRef, Ref: "projects", Required: true},
			{Key: "projectName", Label: "Project Name", Kind: KindText},
			{Key: "supplierName", Label: "Supplier", Kind: KindText, Required: true, InList: true},
			{Key: "supplierContact", Label: "Supplier Contact", Kind: KindText},
			{Key: "supplierEmail", Label: "Supplier Email", Kind: KindEmail},
			{Key: "orderDate", Label: "Order Date", Kind: KindDate, InList: true},
			{Key: "deliveryDate", Label: "Delivery Date", Kind: KindDate},
			{Key: "deliveryAddress", Label: "Delivery Address", Kind: KindTextarea},
			{Key: "status", Label: "Status", Kind: KindSelect, Options: []string{"Draft", "Issued", "Partially Received", "Received", "Cancelled"}, InList: true},
		}, pricingFields(), []Field{
			{Key: "terms", Label: "Terms", Kind: KindRichText},
			{Key: "receipts", Label: "Goods Receipt Notes", Kind: KindItems, Columns: receiptColumns},
		}),
	}

	AuditLogs = &Schema{
		Name: "audit-logs", Singular: "Audit Log", Plural: "Audit Logs", Endpoint: "/api/unified-audit-logs",
		TitleField: "description", ReadOnly: true,
		Fields: []Field{
			{Key: "createdAt", Label: "When", Kind: KindDate, InList: true},
			{Key: "entityType", Label: "Record Type", Kind: KindText, InList: true},
			{Key: "entityId", Label: "Record", Kind: KindText, InList: true},
			{Key: "action", Label: "Action", Kind: KindText, InList: true},
			{Key: "userName", Label: "User", Kind: KindText, InList: true},
			{Key: "description", Label: "Summary", Kind: KindText, InList: true},
		},
	}
)

var all = []*Schema{Leads, Quotations, Revisions, Projects, Variations, SiteVisits, PurchaseOrders, AuditLogs}

// All returns every schema in workflow order, audit logs last.
func All() []*Schema {
	out := make([]*Schema, len(all))
	copy(out, all)
	return out
}

// Editable returns the schemas that have create/edit screens.
func Editable() []*Schema {
	out := make([]*Schema, 0, len(all))
	for _, s := range all {
		if !s.ReadOnly {
			out = append(out, s)
		}
	}
	return out
}

func Lookup(name string) (*Schema, bool) {
	for _, s := range all {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Children returns the schemas whose parent link points at s.
func Children(s *Schema) []*Schema {
	var out []*Schema
	for _, candidate := range all {
		if candidate.Parent != nil && candidate.Parent.Entity == s.Name {
			out = append(out, candidate)
		}
	}
	return out
}
