package mapping

import (
	"fmt"
	"sort"

	"github.com/tincanhq/tincan/internal/common"
	"github.com/tincanhq/tincan/internal/model"
)

// categoryPair names an internal category and subcategory.
type categoryPair struct {
	Category    string
	Subcategory string
}

var uncategorizedPair = categoryPair{model.UncategorizedName, model.UncategorizedName}

// categoryTable maps the aggregator's detailed personal-finance category to an
// internal (category, subcategory) pair. Anything absent from the table falls
// back to Uncategorized.
var categoryTable = map[string]categoryPair{
	"INCOME_DIVIDENDS":           {"Income", "Dividend"},
	"INCOME_INTEREST_EARNED":     {"Income", "Interest"},
	"INCOME_RETIREMENT_PENSION":  {"Income", "Pension"},
	"INCOME_TAX_REFUND":          {"Taxes", "Federal Tax"},
	"INCOME_UNEMPLOYMENT":        {"Income", "Unemployment"},
	"INCOME_WAGES":               {"Income", "Paycheck"},
	"INCOME_OTHER_INCOME":        {"Income", "Income"},
	"TRANSFER_IN_CASH_ADVANCES_AND_LOANS":           {"Transfer", "Transfer"},
	"TRANSFER_IN_DEPOSIT":                           {"Transfer", "Transfer"},
	"TRANSFER_IN_INVESTMENT_AND_RETIREMENT_FUNDS":   {"Transfer", "Transfer"},
	"TRANSFER_IN_SAVINGS":                           {"Transfer", "Transfer"},
	"TRANSFER_IN_ACCOUNT_TRANSFER":                  {"Transfer", "Transfer"},
	"TRANSFER_IN_OTHER_TRANSFER_IN":                 {"Transfer", "Transfer"},
	"TRANSFER_OUT_INVESTMENT_AND_RETIREMENT_FUNDS":  {"Transfer", "Transfer"},
	"TRANSFER_OUT_SAVINGS":                          {"Transfer", "Transfer"},
	"TRANSFER_OUT_WITHDRAWAL":                       {"Transfer", "Transfer"},
	"TRANSFER_OUT_ACCOUNT_TRANSFER":                 {"Transfer", "Transfer"},
	"TRANSFER_OUT_OTHER_TRANSFER_OUT":               {"Transfer", "Transfer"},
	"LOAN_PAYMENTS_CAR_PAYMENT":                     {"Auto & Transport", "Auto Payment"},
	"LOAN_PAYMENTS_CREDIT_CARD_PAYMENT":             {"Transfer", "Credit Card Payment"},
	"LOAN_PAYMENTS_PERSONAL_LOAN_PAYMENT":           {"Transfer", "Transfer"},
	"LOAN_PAYMENTS_MORTGAGE_PAYMENT":                {"Home", "Rent & Mortgage"},
	"LOAN_PAYMENTS_STUDENT_LOAN_PAYMENT":            {"Transfer", "Transfer"},
	"LOAN_PAYMENTS_OTHER_PAYMENT":                   {"Transfer", "Transfer"},
	"BANK_FEES_ATM_FEES":                            {"Fees & Charges", "ATM Fee"},
	"BANK_FEES_FOREIGN_TRANSACTION_FEES":            {"Fees & Charges", "Service Fee"},
	"BANK_FEES_INSUFFICIENT_FUNDS":                  {"Fees & Charges", "Service Fee"},
	"BANK_FEES_INTEREST_CHARGE":                     {"Fees & Charges", "Service Fee"},
	"BANK_FEES_OVERDRAFT_FEES":                      {"Fees & Charges", "Service Fee"},
	"BANK_FEES_OTHER_BANK_FEES":                     {"Fees & Charges", "Service Fee"},
	"ENTERTAINMENT_CASINOS_AND_GAMBLING":            {"Entertainment", "Gambling"},
	"ENTERTAINMENT_MUSIC_AND_AUDIO":                 {"Entertainment", "Music"},
	"ENTERTAINMENT_SPORTING_EVENTS_AMUSEMENT_PARKS_AND_MUSEUMS": {"Entertainment", "Entertainment"},
	"ENTERTAINMENT_TV_AND_MOVIES":                   {"Entertainment", "Movies & DVDs"},
	"ENTERTAINMENT_VIDEO_GAMES":                     {"Entertainment", "Games"},
	"ENTERTAINMENT_OTHER_ENTERTAINMENT":             {"Entertainment", "Entertainment"},
	"FOOD_AND_DRINK_BEER_WINE_AND_LIQUOR":           {"Food", "Alcohol & Bars"},
	"FOOD_AND_DRINK_COFFEE":                         {"Food", "Coffee Shops"},
	"FOOD_AND_DRINK_FAST_FOOD":                      {"Food", "Fast Food"},
	"FOOD_AND_DRINK_GROCERIES":                      {"Food", "Groceries"},
	"FOOD_AND_DRINK_RESTAURANT":                     {"Food", "Restaurants"},
	"FOOD_AND_DRINK_VENDING_MACHINES":               {"Food", "Fast Food"},
	"FOOD_AND_DRINK_OTHER_FOOD_AND_DRINK":           {"Food", "Food"},
	"GENERAL_MERCHANDISE_BOOKSTORES_AND_NEWSSTANDS": {"Uncategorized", "Uncategorized"},
	"GENERAL_MERCHANDISE_CLOTHING_AND_ACCESSORIES":  {"Shopping", "Clothing"},
	"GENERAL_MERCHANDISE_CONVENIENCE_STORES":        {"Uncategorized", "Uncategorized"},
	"GENERAL_MERCHANDISE_DEPARTMENT_STORES":         {"Shopping", "Clothing"},
	"GENERAL_MERCHANDISE_DISCOUNT_STORES":           {"Uncategorized", "Uncategorized"},
	"GENERAL_MERCHANDISE_ELECTRONICS":               {"Shopping", "Electronics & Software"},
	"GENERAL_MERCHANDISE_GIFTS_AND_NOVELTIES":       {"Uncategorized", "Uncategorized"},
	"GENERAL_MERCHANDISE_OFFICE_SUPPLIES":           {"Business Services", "Office Supplies"},
	"GENERAL_MERCHANDISE_ONLINE_MARKETPLACES":       {"Uncategorized", "Uncategorized"},
	"GENERAL_MERCHANDISE_PET_SUPPLIES":              {"Shopping", "Pet Food & Supplies"},
	"GENERAL_MERCHANDISE_SPORTING_GOODS":            {"Shopping", "Sporting Goods"},
	"GENERAL_MERCHANDISE_SUPERSTORES":               {"Uncategorized", "Uncategorized"},
	"GENERAL_MERCHANDISE_TOBACCO_AND_VAPE":          {"Uncategorized", "Uncategorized"},
	"GENERAL_MERCHANDISE_OTHER_GENERAL_MERCHANDISE": {"Uncategorized", "Uncategorized"},
	"HOME_IMPROVEMENT_FURNITURE":                    {"Home", "Furnishings"},
	"HOME_IMPROVEMENT_HARDWARE":                     {"Home", "Home Improvement"},
	"HOME_IMPROVEMENT_REPAIR_AND_MAINTENANCE":       {"Home", "Home Improvement"},
	"HOME_IMPROVEMENT_SECURITY":                     {"Home", "Security"},
	"HOME_IMPROVEMENT_OTHER_HOME_IMPROVEMENT":       {"Home", "Home Improvement"},
	"MEDICAL_DENTAL_CARE":                           {"Health & Fitness", "Dentist"},
	"MEDICAL_EYE_CARE":                              {"Health & Fitness", "Optometrist"},
	"MEDICAL_NURSING_CARE":                          {"Health & Fitness", "Doctor"},
	"MEDICAL_PHARMACIES_AND_SUPPLEMENTS":            {"Health & Fitness", "Pharmacy"},
	"MEDICAL_PRIMARY_CARE":                          {"Health & Fitness", "Doctor"},
	"MEDICAL_VETERINARY_SERVICES":                   {"Health & Fitness", "Veterinary"},
	"MEDICAL_OTHER_MEDICAL":                         {"Health & Fitness", "Doctor"},
	"PERSONAL_CARE_GYMS_AND_FITNESS_CENTERS":        {"Health & Fitness", "Gym"},
	"PERSONAL_CARE_HAIR_AND_BEAUTY":                 {"Personal Care", "Hair"},
	"PERSONAL_CARE_LAUNDRY_AND_DRY_CLEANING":        {"Personal Care", "Laundry"},
	"PERSONAL_CARE_OTHER_PERSONAL_CARE":             {"Uncategorized", "Uncategorized"},
	"GENERAL_SERVICES_ACCOUNTING_AND_FINANCIAL_PLANNING": {"Business Services", "Financial Services"},
	"GENERAL_SERVICES_AUTOMOTIVE":                   {"Auto & Transport", "Service & Auto Parts"},
	"GENERAL_SERVICES_CHILDCARE":                    {"Childcare", "Daycare"},
	"GENERAL_SERVICES_CONSULTING_AND_LEGAL":         {"Uncategorized", "Uncategorized"},
	"GENERAL_SERVICES_EDUCATION":                    {"Education", "Tuition"},
	"GENERAL_SERVICES_INSURANCE":                    {"Uncategorized", "Uncategorized"},
	"GENERAL_SERVICES_POSTAGE_AND_SHIPPING":         {"Business Services", "Shipping"},
	"GENERAL_SERVICES_STORAGE":                      {"Uncategorized", "Uncategorized"},
	"GENERAL_SERVICES_OTHER_GENERAL_SERVICES":       {"Uncategorized", "Uncategorized"},
	"GOVERNMENT_AND_NON_PROFIT_DONATIONS":           {"Uncategorized", "Uncategorized"},
	"GOVERNMENT_AND_NON_PROFIT_GOVERNMENT_DEPARTMENTS_AND_AGENCIES": {"Uncategorized", "Uncategorized"},
	"GOVERNMENT_AND_NON_PROFIT_TAX_PAYMENT":         {"Uncategorized", "Uncategorized"},
	"GOVERNMENT_AND_NON_PROFIT_OTHER_GOVERNMENT_AND_NON_PROFIT": {"Uncategorized", "Uncategorized"},
	"TRANSPORTATION_BIKES_AND_SCOOTERS":             {"Uncategorized", "Uncategorized"},
	"TRANSPORTATION_GAS":                            {"Auto & Transport", "Gas & Fuel"},
	"TRANSPORTATION_PARKING":                        {"Auto & Transport", "Parking"},
	"TRANSPORTATION_PUBLIC_TRANSIT":                 {"Auto & Transport", "Public Transportation"},
	"TRANSPORTATION_TAXIS_AND_RIDE_SHARES":          {"Auto & Transport", "Ride Share"},
	"TRANSPORTATION_TOLLS":                          {"Auto & Transport", "Tolls"},
	"TRANSPORTATION_OTHER_TRANSPORTATION":           {"Uncategorized", "Uncategorized"},
	"TRAVEL_FLIGHTS":                                {"Travel", "Air Fare"},
	"TRAVEL_LODGING":                                {"Travel", "Hotel"},
	"TRAVEL_RENTAL_CARS":                            {"Travel", "Rental Car & Taxi"},
	"TRAVEL_OTHER_TRAVEL":                           {"Uncategorized", "Uncategorized"},
	"RENT_AND_UTILITIES_GAS_AND_ELECTRICITY":        {"Bills & Utilities", "Utilities"},
	"RENT_AND_UTILITIES_INTERNET_AND_CABLE":         {"Bills & Utilities", "Internet"},
	"RENT_AND_UTILITIES_RENT":                       {"Home", "Rent & Mortgage"},
	"RENT_AND_UTILITIES_SEWAGE_AND_WASTE_MANAGEMENT": {"Bills & Utilities", "Utilities"},
	"RENT_AND_UTILITIES_TELEPHONE":                  {"Bills & Utilities", "Phone"},
	"RENT_AND_UTILITIES_WATER":                      {"Bills & Utilities", "Utilities"},
	"RENT_AND_UTILITIES_OTHER_UTILITIES":            {"Bills & Utilities", "Utilities"},
}

// CategorySet is the per-batch category cache. It is built once from storage
// before a batch runs and is read-only afterward, so reconcilers can share it
// without locking, and a mapped transaction never costs a query.
type CategorySet struct {
	categories    map[string]model.Category
	subcategories map[string]model.Subcategory
}

// NewCategorySet builds a CategorySet from the category and subcategory rows
// in storage. A missing Uncategorized/Uncategorized pair is a configuration
// error: the fallback target has to exist before any mapping can happen.
func NewCategorySet(categories []model.Category, subcategories []model.Subcategory) (*CategorySet, error) {
	set := &CategorySet{
		categories:    make(map[string]model.Category, len(categories)),
		subcategories: make(map[string]model.Subcategory, len(subcategories)),
	}

	byID := make(map[int64]model.Category, len(categories))
	for _, cat := range categories {
		set.categories[cat.Name] = cat
		byID[cat.ID] = cat
	}
	for _, sub := range subcategories {
		parent, ok := byID[sub.CategoryID]
		if !ok {
			return nil, fmt.Errorf("subcategory %q references unknown category id %d", sub.Name, sub.CategoryID)
		}
		set.subcategories[subcategoryKey(parent.Name, sub.Name)] = sub
	}

	if _, _, ok := set.lookup(uncategorizedPair); !ok {
		return nil, fmt.Errorf("%w: %s category is not seeded", common.ErrInvalidConfig, model.UncategorizedName)
	}

	return set, nil
}

// Map resolves the aggregator's detailed category string to internal category
// and subcategory IDs. Unknown, absent, or unseeded categories resolve to the
// Uncategorized pair.
func (s *CategorySet) Map(externalCategory string) (categoryID, subcategoryID int64) {
	pair, ok := categoryTable[externalCategory]
	if !ok {
		pair = uncategorizedPair
	}

	catID, subID, ok := s.lookup(pair)
	if !ok {
		catID, subID, _ = s.lookup(uncategorizedPair)
	}
	return catID, subID
}

func (s *CategorySet) lookup(pair categoryPair) (categoryID, subcategoryID int64, ok bool) {
	cat, ok := s.categories[pair.Category]
	if !ok {
		return 0, 0, false
	}
	sub, ok := s.subcategories[subcategoryKey(pair.Category, pair.Subcategory)]
	if !ok {
		return 0, 0, false
	}
	return cat.ID, sub.ID, true
}

func subcategoryKey(category, subcategory string) string {
	return category + "-" + subcategory
}

// SeedCategory describes one category and its subcategories for seeding a
// fresh database.
type SeedCategory struct {
	Name          string
	Type          model.CategoryType
	Subcategories []string
}

var categoryTypes = map[string]model.CategoryType{
	"Income":   model.CategoryTypeIncome,
	"Transfer": model.CategoryTypeTransfer,
}

// SeedCategories returns every category/subcategory pair the mapping table can
// produce, in deterministic order, for the seed migration. The Uncategorized
// pair is always included.
func SeedCategories() []SeedCategory {
	subsByCategory := make(map[string]map[string]bool)
	add := func(pair categoryPair) {
		if subsByCategory[pair.Category] == nil {
			subsByCategory[pair.Category] = make(map[string]bool)
		}
		subsByCategory[pair.Category][pair.Subcategory] = true
	}
	add(uncategorizedPair)
	for _, pair := range categoryTable {
		add(pair)
	}

	names := make([]string, 0, len(subsByCategory))
	for name := range subsByCategory {
		names = append(names, name)
	}
	sort.Strings(names)

	seeds := make([]SeedCategory, 0, len(names))
	for _, name := range names {
		catType, ok := categoryTypes[name]
		if !ok {
			catType = model.CategoryTypeSpend
		}

		subs := make([]string, 0, len(subsByCategory[name]))
		for sub := range subsByCategory[name] {
			subs = append(subs, sub)
		}
		sort.Strings(subs)

		seeds = append(seeds, SeedCategory{Name: name, Type: catType, Subcategories: subs})
	}
	return seeds
}
