package engine

import "strings"

// Category is the closed classification TARGET_ACTION conditions compare against.
type Category string

const (
	CategoryBotMessage     Category = "BOT_MESSAGE"
	CategoryLeadForm       Category = "LEAD_FORM"
	CategorySiteTraffic    Category = "SITE_TRAFFIC"
	CategorySiteConversion Category = "SITE_CONVERSION"
	CategoryAppInstall     Category = "APP_INSTALL"
	CategoryVideoView      Category = "VIDEO_VIEW"
	CategoryOther          Category = "OTHER"
)

// objective (as declared on the ad group) -> category
var objectiveCategory = map[string]Category{
	"socialengagement": CategoryBotMessage,
	"messages":         CategoryBotMessage,
	"message":          CategoryBotMessage,
	"bot_message":      CategoryBotMessage,
	"leadads":          CategoryLeadForm,
	"lead_generation":  CategoryLeadForm,
	"leads":            CategoryLeadForm,
	"traffic":          CategorySiteTraffic,
	"link_clicks":      CategorySiteTraffic,
	"site_conversions": CategorySiteConversion,
	"conversions":      CategorySiteConversion,
	"appinstalls":      CategoryAppInstall,
	"app_installs":     CategoryAppInstall,
	"mobile_app":       CategoryAppInstall,
	"video_views":      CategoryVideoView,
	"videoviews":       CategoryVideoView,
}

// Classify maps a group objective to its category; unmapped objectives are OTHER.
func Classify(objective string) Category {
	if c, ok := objectiveCategory[strings.ToLower(strings.TrimSpace(objective))]; ok {
		return c
	}
	return CategoryOther
}
