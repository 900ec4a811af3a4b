package crawl

import (
	"encoding/xml"
	"fmt"
)

// sitemapURLSet is the <urlset> document form.
type sitemapURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// sitemapIndex is the <sitemapindex> document form pointing at child
// sitemaps.
type sitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// ParseSitemap extracts page URLs and child sitemap URLs from sitemap XML.
func ParseSitemap(data []byte) (pages []string, children []string, err error) {
	var urlset sitemapURLSet
	if err := xml.Unmarshal(data, &urlset); err == nil && len(urlset.URLs) > 0 {
		for _, u := range urlset.URLs {
			if u.Loc != "" {
				pages = append(pages, u.Loc)
			}
		}
		return pages, nil, nil
	}

	var index sitemapIndex
	if err := xml.Unmarshal(data, &index); err == nil && len(index.Sitemaps) > 0 {
		for _, s := range index.Sitemaps {
			if s.Loc != "" {
				children = append(children, s.Loc)
			}
		}
		return nil, children, nil
	}

	return nil, nil, fmt.Errorf("not a recognizable sitemap document")
}
