package diagnosis

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultSymptoms  = "暂无症状描述"
	defaultTreatment = "请咨询专业人员"
)

// Disease 病害分类条目
type Disease struct {
	Code      string `yaml:"code"`
	Name      string `yaml:"name"`
	EnglishID string `yaml:"english_id,omitempty"`
	Symptoms  string `yaml:"symptoms"`
	Treatment string `yaml:"treatment"`
	Healthy   bool   `yaml:"healthy,omitempty"`
}

// Taxonomy 病害代码到展示信息的静态映射
type Taxonomy struct {
	diseases map[string]Disease
	codes    []string
}

type taxonomyFile struct {
	Diseases []Disease `yaml:"diseases"`
}

// NewTaxonomy 由条目列表构建分类表
func NewTaxonomy(diseases []Disease) (*Taxonomy, error) {
	t := &Taxonomy{diseases: make(map[string]Disease, len(diseases))}
	for _, d := range diseases {
		if d.Code == "" {
			return nil, fmt.Errorf("病害条目缺少code: %q", d.Name)
		}
		if _, dup := t.diseases[d.Code]; dup {
			return nil, fmt.Errorf("病害代码重复: %s", d.Code)
		}
		t.diseases[d.Code] = d
		t.codes = append(t.codes, d.Code)
	}
	if len(t.codes) == 0 {
		return nil, fmt.Errorf("病害分类表为空")
	}
	return t, nil
}

// ParseTaxonomy 解析YAML格式的分类表
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var file taxonomyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("解析病害分类表失败: %w", err)
	}
	return NewTaxonomy(file.Diseases)
}

// LoadTaxonomy 从文件加载分类表
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取病害分类表失败: %w", err)
	}
	return ParseTaxonomy(data)
}

// Lookup 查询病害信息，未知代码返回以代码为名称的默认条目
func (t *Taxonomy) Lookup(code string) (Disease, bool) {
	if d, ok := t.diseases[code]; ok {
		return d, true
	}
	return Disease{
		Code:      code,
		Name:      code,
		Symptoms:  defaultSymptoms,
		Treatment: defaultTreatment,
	}, false
}

// IsHealthy 判断代码是否为健康类别
func (t *Taxonomy) IsHealthy(code string) bool {
	return t.diseases[code].Healthy
}

// Codes 按加载顺序返回所有代码
func (t *Taxonomy) Codes() []string {
	out := make([]string, len(t.codes))
	copy(out, t.codes)
	return out
}
