// Package reaction provides the reaction content type. Added reactions are
// cached per referenced message and sender; removed reactions delete the
// matching record.
package reaction
